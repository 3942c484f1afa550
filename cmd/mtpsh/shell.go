package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/abiosoft/ishell/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mtpline/mtpline/flood"
	"github.com/mtpline/mtpline/stats"
	"github.com/mtpline/mtpline/transport"
	"github.com/mtpline/mtpline/types"
)

var (
	programLevel = new(slog.LevelVar) // Info by default

	proxy   transport.Proxy
	floodCl *flood.FloodControl

	registry = prometheus.NewRegistry()
	metrics  *stats.Metrics

	activeTransport transport.Transport
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "start the interactive shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
		slog.SetDefault(slog.New(h))

		metrics = stats.New(registry)

		if err := loadConfig(); err != nil {
			return err
		}

		shell := ishell.New()

		shell.SetHomeHistoryPath(".mtpsh_history")

		shell.Println("mtpline Interactive Shell")

		shell.AddCmd(&ishell.Cmd{
			Name: "trace",
			Help: "set log level to trace",
			Func: func(c *ishell.Context) {
				programLevel.Set(types.LevelTrace)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "debug",
			Help: "set log level to debug",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelDebug)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "info",
			Help: "set log level to info",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelInfo)
			},
		})

		shell.AddCmd(proxyCmd())
		shell.AddCmd(floodCmd())
		shell.AddCmd(dialCmd())
		shell.AddCmd(metricsCmd())

		shell.Run()
		return nil
	},
}

// loadConfig pulls proxy and flood settings from viper (config file,
// env, flags).
func loadConfig() error {
	ptype, err := transport.ParseProxyType(viper.GetString("proxy.type"))
	if err != nil {
		return err
	}

	proxy = transport.Proxy{
		Type:   ptype,
		Server: viper.GetString("proxy.server"),
		Port:   uint16(viper.GetUint32("proxy.port")),
	}
	if viper.IsSet("proxy.user") {
		proxy.User = gonull.NewNullable(viper.GetString("proxy.user"))
	}
	if viper.IsSet("proxy.password") {
		proxy.Password = gonull.NewNullable(viper.GetString("proxy.password"))
	}
	if secret := viper.GetString("proxy.secret"); secret != "" {
		raw, err := hex.DecodeString(secret)
		if err != nil {
			return fmt.Errorf("proxy.secret is not hex: %w", err)
		}
		proxy.Secret = raw
	}

	cfg := flood.Config{
		MaxQueriesPerSecond: viper.GetUint32("flood.max_queries_per_second"),
		BurstSize:           viper.GetUint32("flood.burst_size"),
		WindowDuration:      viper.GetDuration("flood.window"),
		PerDCLimits:         viper.GetBool("flood.per_dc"),
		DropAfter:           viper.GetDuration("flood.drop_after"),
	}
	floodCl = flood.New(cfg).WithMetrics(metrics)
	return nil
}

func proxyCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "proxy",
		Help: "proxy config viewing, setting, validating",
		Func: func(c *ishell.Context) {
			c.Println("proxy type:", proxy.Type)
			if proxy.IsActive() {
				c.Println("proxy endpoint:", proxy.HostPort())
				c.Println("proxy credentials set:", proxy.HasCredentials())
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "set",
		Help: "set the proxy: set <type> <server> <port> [user] [password]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 3 {
				c.Err(errors.New("usage: proxy set <type> <server> <port> [user] [password]"))
				return
			}

			ptype, err := transport.ParseProxyType(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			port, err := strconv.ParseUint(c.Args[2], 10, 16)
			if err != nil {
				c.Err(fmt.Errorf("bad port: %w", err))
				return
			}

			proxy = transport.Proxy{Type: ptype, Server: c.Args[1], Port: uint16(port)}
			if len(c.Args) >= 5 {
				proxy.User = gonull.NewNullable(c.Args[3])
				proxy.Password = gonull.NewNullable(c.Args[4])
			}

			c.Println("proxy set:", proxy.Type, proxy.HostPort())
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "secret",
		Help: "set the mtproto proxy secret (hex)",
		Func: func(c *ishell.Context) {
			var line string
			if len(c.Args) == 0 {
				c.Println("enter the secret, hex encoded")
				line = c.ReadLine()
			} else {
				line = c.Args[0]
			}

			raw, err := hex.DecodeString(line)
			if err != nil {
				c.Err(err)
				return
			}
			proxy.Secret = raw
			c.Println("secret set,", len(raw), "bytes")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "validate",
		Help: "validate the current proxy config",
		Func: func(c *ishell.Context) {
			if err := proxy.Validate(); err != nil {
				c.Err(err)
				return
			}
			c.Println("proxy config is valid")
		},
	})

	return c
}

func floodCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "flood",
		Help: "flood control checks and counters",
		Func: func(c *ishell.Context) {
			c.Println("total sent:", floodCl.TotalSent())
			c.Println("flood waits:", floodCl.FloodWaitCount())
			c.Println("tracked DCs:", floodCl.TrackedDCs())
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "check",
		Help: "run one admission check: check [dc]",
		Func: func(c *ishell.Context) {
			dc := types.DCNone
			if len(c.Args) > 0 {
				n, err := strconv.ParseInt(c.Args[0], 10, 32)
				if err != nil {
					c.Err(fmt.Errorf("bad dc id: %w", err))
					return
				}
				dc = types.DCID(n)
			}

			d := floodCl.CheckQuery(dc)
			if d.RetryAfter > 0 {
				c.Println(d.Verdict, "retry after", d.RetryAfter)
			} else {
				c.Println(d.Verdict)
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "wait",
		Help: "feed a server flood wait: wait <dc> <seconds>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(errors.New("usage: flood wait <dc> <seconds>"))
				return
			}
			n, err := strconv.ParseInt(c.Args[0], 10, 32)
			if err != nil {
				c.Err(fmt.Errorf("bad dc id: %w", err))
				return
			}
			secs, err := strconv.Atoi(c.Args[1])
			if err != nil {
				c.Err(fmt.Errorf("bad seconds: %w", err))
				return
			}

			floodCl.OnFloodWait(types.DCID(n), time.Duration(secs)*time.Second)
			c.Println("flood wait recorded for dc", n)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "reset",
		Help: "reset all limiter state",
		Func: func(c *ishell.Context) {
			floodCl.Reset()
			c.Println("flood control reset")
		},
	})

	return c
}

func dialCmd() *ishell.Cmd {
	connect := func(c *ishell.Context, build func(target transport.DialOpts) (transport.Transport, error)) {
		if len(c.Args) < 2 {
			c.Err(errors.New("usage: <host> <port>"))
			return
		}
		port, err := strconv.ParseUint(c.Args[1], 10, 16)
		if err != nil {
			c.Err(fmt.Errorf("bad port: %w", err))
			return
		}

		tr, err := build(transport.DialOpts{Host: c.Args[0], Port: uint16(port)})
		if err != nil {
			c.Err(err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), transport.DefaultConnectTimeout)
		defer cancel()

		if err := tr.Connect(ctx); err != nil {
			c.Err(err)
			return
		}

		if activeTransport != nil {
			_ = activeTransport.Close()
		}
		activeTransport = tr
		c.Println("connected, state:", tr.State())
	}

	c := &ishell.Cmd{
		Name: "dial",
		Help: "dial a transport to an endpoint",
		Func: func(c *ishell.Context) {
			if activeTransport == nil {
				c.Println("no active transport")
				return
			}
			c.Println("active transport state:", activeTransport.State())
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "tcp",
		Help: "dial plain tcp: tcp <host> <port>",
		Func: func(c *ishell.Context) {
			connect(c, func(target transport.DialOpts) (transport.Transport, error) {
				return transport.NewTCPTransport(target).WithMetrics(metrics), nil
			})
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "http",
		Help: "dial http: http <host> <port>",
		Func: func(c *ishell.Context) {
			connect(c, func(target transport.DialOpts) (transport.Transport, error) {
				return transport.NewHTTPTransport(target, false).WithMetrics(metrics), nil
			})
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "dial through the configured proxy: connect <host> <port>",
		Func: func(c *ishell.Context) {
			connect(c, func(target transport.DialOpts) (transport.Transport, error) {
				return transport.ForProxy(proxy, target)
			})
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "close",
		Help: "close the active transport",
		Func: func(c *ishell.Context) {
			if activeTransport == nil {
				c.Println("no active transport")
				return
			}
			if err := activeTransport.Close(); err != nil {
				c.Err(err)
				return
			}
			activeTransport = nil
			c.Println("closed")
		},
	})

	return c
}

func metricsCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "metrics",
		Help: "serve prometheus metrics: metrics <addr>",
		Func: func(c *ishell.Context) {
			addr := ":9155"
			if len(c.Args) > 0 {
				addr = c.Args[0]
			}

			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				if err := http.ListenAndServe(addr, mux); err != nil {
					slog.Error("metrics server stopped", "err", err)
				}
			}()
			c.Println("serving metrics on", addr)
		},
	}
}
