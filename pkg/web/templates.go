package web

import (
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kindredhq/kindred/pkg/observability"
)

// Templates loads and renders the view templates. Each page file is parsed
// together with layout.html; pages fill the layout's "content" block.
type Templates struct {
	dir    string
	logger *observability.Logger

	mu    sync.RWMutex
	pages map[string]*template.Template
}

// NewTemplates parses every view under dir. With watch set, the directory
// is watched and templates reload on change, so view edits show up without
// a restart.
func NewTemplates(dir string, watch bool, logger *observability.Logger) (*Templates, error) {
	t := &Templates{dir: dir, logger: logger}
	if err := t.load(); err != nil {
		return nil, err
	}
	if watch {
		if err := t.watch(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Templates) load() error {
	layout := filepath.Join(t.dir, "layout.html")
	files, err := filepath.Glob(filepath.Join(t.dir, "*.html"))
	if err != nil {
		return fmt.Errorf("failed to list templates in %s: %w", t.dir, err)
	}

	pages := make(map[string]*template.Template)
	for _, file := range files {
		name := filepath.Base(file)
		if name == "layout.html" {
			continue
		}
		tmpl, err := template.ParseFiles(layout, file)
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	if len(pages) == 0 {
		return fmt.Errorf("no templates found in %s", t.dir)
	}

	t.mu.Lock()
	t.pages = pages
	t.mu.Unlock()
	return nil
}

func (t *Templates) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(t.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", t.dir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := t.load(); err != nil {
					// A half-saved file can fail to parse; keep serving
					// the previous set and try again on the next event.
					t.logger.WithError(err).Warn("template reload failed")
					continue
				}
				t.logger.WithField("file", event.Name).Debug("templates reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.WithError(err).Warn("template watcher error")
			}
		}
	}()
	return nil
}

// Render writes the named page with the layout around it.
func (t *Templates) Render(w http.ResponseWriter, name string, data interface{}) error {
	t.mu.RLock()
	tmpl, ok := t.pages[name]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	return nil
}
