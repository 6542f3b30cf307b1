package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const shutdownGrace = 5 * time.Second

// HTTPServer serves root_folder under url_prefix on port. Requests for
// files that do not exist locally go to upstream_proxy when one is set.
func HTTPServer(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := ReadKV(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	handler, err := newHTTPHandler(cfg)
	if err != nil {
		return err
	}

	port := cfg["port"]
	if port == "" {
		return errors.New("port is required")
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", port, err)
	}
	fmt.Fprintf(out, "serving %s at %s on %s\n", cfg["root_folder"], prefixOf(cfg), ln.Addr())

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	fmt.Fprintln(out, "stopped")
	return nil
}

func prefixOf(cfg map[string]string) string {
	prefix := cfg["url_prefix"]
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func newHTTPHandler(cfg map[string]string) (http.Handler, error) {
	root := cfg["root_folder"]
	if root == "" {
		return nil, errors.New("root_folder is required")
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("root_folder %q is not a directory", root)
	}

	var proxy *httputil.ReverseProxy
	if upstream := cfg["upstream_proxy"]; upstream != "" {
		target, err := url.Parse(upstream)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream_proxy %q", upstream)
		}
		proxy = httputil.NewSingleHostReverseProxy(target)
	}

	prefix := prefixOf(cfg)
	files := http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.FileServer(http.Dir(root)))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if proxy != nil && !exists(root, strings.TrimPrefix(r.URL.Path, prefix)) {
			proxy.ServeHTTP(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
	return mux, nil
}

func exists(root, name string) bool {
	clean := path.Clean("/" + name)
	_, err := os.Stat(root + clean)
	return err == nil
}
