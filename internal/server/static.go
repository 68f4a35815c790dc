package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewHandler serves the files under dir. A request for an extensionless
// path with no matching file is answered from "<path>.html" when it exists,
// and ".../index.html" is served in place rather than redirected.
func NewHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/index.html"):
			req.URL.Path = strings.TrimSuffix(req.URL.Path, "index.html")
			req.URL.RawPath = ""
		default:
			if alt, ok := htmlFallback(dir, req.URL.Path); ok {
				req.URL.Path = alt
				req.URL.RawPath = ""
			}
		}
		files.ServeHTTP(w, req)
	}))
	return r
}

func htmlFallback(dir, urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	if clean == "/" || path.Ext(clean) != "" {
		return "", false
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err == nil {
		return "", false
	}
	alt := clean + ".html"
	if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(alt))); err != nil || info.IsDir() {
		return "", false
	}
	return alt, true
}

// Serve listens on 127.0.0.1:port, writes the ready line to out, and serves
// dir until ctx is done. A bind failure is returned before anything is
// written to out.
func Serve(ctx context.Context, dir string, port int, out io.Writer) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat site dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("site dir %q is not a directory", dir)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	srv := &http.Server{
		Handler:           NewHandler(dir),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if _, err := fmt.Fprintf(out, "%s http://%s\n", DefaultReadyMarker, ln.Addr()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("announce readiness: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", dir, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown static server: %w", err)
	}
	<-errCh
	return nil
}
