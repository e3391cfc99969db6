// Command nrelay-server runs the relay core: the control-protocol
// listener, the admin tunnel-creation API, and the shared public-ingress
// listeners (HTTP, HTTPS/TLS-SNI, Minecraft), all bound to one in-memory
// tunnel registry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/macqgoye/NRelay/admin"
	"github.com/macqgoye/NRelay/controlserver"
	"github.com/macqgoye/NRelay/ingress"
	"github.com/macqgoye/NRelay/internal/cmdutil"
	"github.com/macqgoye/NRelay/internal/version"
	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/observability/prom"
	"github.com/macqgoye/NRelay/registry"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

type ready struct {
	Version    string `json:"version"`
	ControlURL string `json:"control_url"`
	AdminURL   string `json:"admin_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	bindAddr := cmdutil.EnvString("RELAY_BIND", "0.0.0.0")
	relayPort, err := cmdutil.EnvInt("RELAY_PORT", 7000)
	if err != nil {
		fmt.Fprintf(stderr, "invalid RELAY_PORT: %v\n", err)
		return 2
	}
	adminBind := cmdutil.EnvString("ADMIN_BIND", bindAddr)
	adminPort, err := cmdutil.EnvInt("ADMIN_PORT", 7001)
	if err != nil {
		fmt.Fprintf(stderr, "invalid ADMIN_PORT: %v\n", err)
		return 2
	}
	httpBind := cmdutil.EnvString("HTTP_BIND", bindAddr)
	httpPort, err := cmdutil.EnvInt("HTTP_PORT", 80)
	if err != nil {
		fmt.Fprintf(stderr, "invalid HTTP_PORT: %v\n", err)
		return 2
	}
	httpsBind := cmdutil.EnvString("HTTPS_BIND", bindAddr)
	httpsPort, err := cmdutil.EnvInt("HTTPS_PORT", 443)
	if err != nil {
		fmt.Fprintf(stderr, "invalid HTTPS_PORT: %v\n", err)
		return 2
	}
	mcBind := cmdutil.EnvString("MC_BIND", bindAddr)
	mcPort, err := cmdutil.EnvInt("MC_PORT", 0)
	if err != nil {
		fmt.Fprintf(stderr, "invalid MC_PORT: %v\n", err)
		return 2
	}
	metricsListen := cmdutil.EnvString("METRICS_LISTEN", "")
	domain := cmdutil.EnvString("RELAY_DOMAIN", "")
	replicaAddr := cmdutil.EnvString("ADMIN_REPLICA_ADDR", "")
	adminToken := strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	adminTokenFile := cmdutil.EnvString("ADMIN_TOKEN_FILE", "")

	if adminTokenFile != "" {
		tok, err := readTokenFile(adminTokenFile)
		if err != nil {
			fmt.Fprintf(stderr, "reading ADMIN_TOKEN_FILE: %v\n", err)
			return 2
		}
		adminToken = tok
	}
	if adminToken == "" {
		fmt.Fprintln(stderr, "ADMIN_TOKEN (or ADMIN_TOKEN_FILE) must be set")
		return 2
	}
	if domain == "" {
		fmt.Fprintln(stderr, "RELAY_DOMAIN must be set")
		return 2
	}

	reg := registry.New()
	bandwidth := registry.NewBandwidthTracker()
	atomicObs := observability.NewAtomicTunnelObserver()
	atomicObs.Set(registry.BandwidthObserver{Tracker: bandwidth})

	ctrlSrv, err := controlserver.New(reg, controlserver.Config{Observer: atomicObs})
	if err != nil {
		fmt.Fprintf(stderr, "controlserver.New: %v\n", err)
		return 2
	}

	disp := ingress.New(reg, ingress.Config{Observer: atomicObs})

	adminSrv, err := admin.New(reg, disp, admin.Config{
		BearerToken:    adminToken,
		RelayAddr:      domain,
		RelayPort:      uint16(relayPort),
		Domain:         domain,
		ListenBindAddr: bindAddr,
		ReplicaAddr:    replicaAddr,
		Bandwidth:      bandwidth,
		Observer:       atomicObs,
	})
	if err != nil {
		fmt.Fprintf(stderr, "admin.New: %v\n", err)
		return 2
	}
	defer adminSrv.Close()
	baseObserver := observability.MultiObserver{registry.BandwidthObserver{Tracker: bandwidth}, adminSrv.Observer()}
	atomicObs.Set(baseObserver)

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go adminSrv.Run(ctx)

	ctrlLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, relayPort))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	go func() {
		if err := ctrlSrv.Serve(ctx, ctrlLn); err != nil {
			fmt.Fprintf(stderr, "control server: %v\n", err)
		}
	}()

	adminLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", adminBind, adminPort))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	adminHTTPSrv := &http.Server{Handler: adminSrv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := adminHTTPSrv.Serve(adminLn); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "admin server: %v\n", err)
		}
	}()

	if httpPort > 0 {
		if ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", httpBind, httpPort)); err == nil {
			go disp.ServeHTTP(ctx, ln)
		} else {
			fmt.Fprintf(stderr, "shared http listener disabled: %v\n", err)
		}
	}
	if httpsPort > 0 {
		if ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", httpsBind, httpsPort)); err == nil {
			go disp.ServeTLS(ctx, ln)
		} else {
			fmt.Fprintf(stderr, "shared tls listener disabled: %v\n", err)
		}
	}
	if mcPort > 0 {
		if ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", mcBind, mcPort)); err == nil {
			go disp.ServeMinecraft(ctx, ln)
		} else {
			fmt.Fprintf(stderr, "shared minecraft listener disabled: %v\n", err)
		}
	}

	var metricsEnabledObserver observability.MultiObserver

	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		promReg := prom.NewRegistry()
		tunnelObs := prom.NewTunnelObserver(promReg)
		metricsEnabledObserver = observability.MultiObserver{tunnelObs, registry.BandwidthObserver{Tracker: bandwidth}, adminSrv.Observer()}
		atomicObs.Set(metricsEnabledObserver)

		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler(promReg))
		metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(stderr, "metrics server: %v\n", err)
			}
		}()
	}

	out := ready{
		Version:    version.Format(buildVersion, buildCommit, buildDate),
		ControlURL: ctrlLn.Addr().String(),
		AdminURL:   "http://" + adminLn.Addr().String(),
	}
	if metricsLn != nil {
		out.MetricsURL = "http://" + metricsLn.Addr().String() + "/metrics"
	}
	json.NewEncoder(stdout).Encode(out)

	go func() {
		for {
			time.Sleep(30 * time.Second)
			bandwidth.Prune(time.Now())
		}
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, notifySignals()...)
	for {
		s := <-sig
		switch {
		case isReloadSignal(s):
			if adminTokenFile == "" {
				continue
			}
			tok, err := readTokenFile(adminTokenFile)
			if err != nil {
				fmt.Fprintf(stderr, "reload admin token failed: %v\n", err)
				continue
			}
			adminSrv.SetBearerToken(tok)
			fmt.Fprintln(stderr, "reloaded admin token")
		case isMetricsEnableSignal(s):
			if metricsEnabledObserver == nil {
				fmt.Fprintln(stderr, "metrics disabled (missing METRICS_LISTEN)")
				continue
			}
			atomicObs.Set(metricsEnabledObserver)
			fmt.Fprintln(stderr, "metrics enabled")
		case isMetricsDisableSignal(s):
			if metricsEnabledObserver == nil {
				continue
			}
			atomicObs.Set(baseObserver)
			fmt.Fprintln(stderr, "metrics disabled")
		default:
			cancelCtx()
			ctrlLn.Close()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			adminHTTPSrv.Shutdown(shutdownCtx)
			if metricsSrv != nil {
				metricsSrv.Shutdown(shutdownCtx)
			}
			shutdownCancel()
			return 0
		}
	}
}

func readTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
