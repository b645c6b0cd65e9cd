package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Constructor builds a scheduler from its config and collaborators.
type Constructor func(cfg Config, deps Deps) (Scheduler, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

func init() {
	Register(FCFSName, NewFCFS)
	Register(BoundedFCFSName, NewBoundedFCFS)
	Register(TokenPriorityName, NewTokenPriority)
}

// Register makes a strategy available to New under name. Panics if name is
// empty, already registered, or c is nil.
func Register(name string, c Constructor) {
	name = normalize(name)
	if name == "" || c == nil {
		panic("server: Register needs a name and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := constructors[name]; ok {
		panic(fmt.Sprintf("server: strategy %q registered twice", name))
	}
	constructors[name] = c
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the strategy named by cfg.Type. An empty or unknown name builds
// fcfs; invalid parameters for a known strategy are an error.
func New(cfg Config, deps Deps) (Scheduler, error) {
	name := normalize(cfg.Type)
	registryMu.RLock()
	c, ok := constructors[name]
	registryMu.RUnlock()
	if !ok {
		if name != "" {
			log.Warnf("Unknown scheduler strategy %q, using %s. Known strategies: %v", cfg.Type, FCFSName, Names())
		}
		c = NewFCFS
		cfg.Type = FCFSName
	}
	return c(cfg, deps)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
