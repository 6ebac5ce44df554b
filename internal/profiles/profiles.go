// Package profiles loads named connection profiles from a YAML file,
// adapted from the teacher's tenant-config loader: the same
// ${ENV}-substitution and fsnotify hot-reload pattern, now describing
// a single operator-edited connection target per name instead of a
// pool's tenant roster.
package profiles

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the top-level shape of a profiles YAML document.
type File struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile describes one named connection target for cmd/pgconn-cli.
type Profile struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Database           string        `yaml:"dbname"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	SSLMode            string        `yaml:"sslmode"`
	TargetSessionAttrs string        `yaml:"target_session_attrs"`
	ApplicationName    string        `yaml:"application_name"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// Redacted returns a copy of p with the password masked, for logging.
func (p Profile) Redacted() Profile {
	c := p
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML profiles file, substituting ${VAR_NAME}
// references against the process environment before unmarshaling.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}

	data = substituteEnvVars(data)

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}

	if err := validate(f); err != nil {
		return nil, fmt.Errorf("validating profiles file: %w", err)
	}

	applyDefaults(f)
	return f, nil
}

func applyDefaults(f *File) {
	for name, p := range f.Profiles {
		if p.Port == 0 {
			p.Port = 5432
		}
		if p.SSLMode == "" {
			p.SSLMode = "prefer"
		}
		if p.TargetSessionAttrs == "" {
			p.TargetSessionAttrs = "any"
		}
		if p.ConnectTimeout == 0 {
			p.ConnectTimeout = 2 * time.Second
		}
		f.Profiles[name] = p
	}
}

func validate(f *File) error {
	for name, p := range f.Profiles {
		if p.Host == "" {
			return fmt.Errorf("profile %q: host is required", name)
		}
		if p.User == "" {
			return fmt.Errorf("profile %q: user is required", name)
		}
		switch p.SSLMode {
		case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("profile %q: unsupported sslmode %q", name, p.SSLMode)
		}
	}
	return nil
}

// Watcher watches a profiles file for changes, reloading and invoking
// callback on every debounced write.
type Watcher struct {
	path     string
	callback func(*File)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a Watcher for path. callback is invoked from the
// watcher's own goroutine on every successful reload.
func NewWatcher(path string, callback func(*File)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching profiles file: %w", err)
	}

	pw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go pw.run()
	return pw, nil
}

func (pw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					pw.reload()
				})
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[profiles] watcher error: %v", err)
		case <-pw.stopCh:
			return
		}
	}
}

func (pw *Watcher) reload() {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	f, err := Load(pw.path)
	if err != nil {
		log.Printf("[profiles] hot-reload failed: %v", err)
		return
	}

	log.Printf("[profiles] profiles reloaded from %s", pw.path)
	pw.callback(f)
}

// Stop stops the profiles file watcher.
func (pw *Watcher) Stop() error {
	close(pw.stopCh)
	return pw.watcher.Close()
}
