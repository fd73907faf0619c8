package logging

import (
	"fmt"
	"sort"
	"sync"
)

// LoggerManager hands out one logger per component.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager returns the process-wide manager.
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
		}
	})
	return globalManager
}

// GetLogger returns the logger for component, creating it on first use.
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Re-check under the write lock.
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger returns the component logger or the default logger on error.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return current()
	}
	return logger
}

// rebind points existing component loggers at the backend installed by Init.
func (lm *LoggerManager) rebind() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for component, old := range lm.loggers {
		fresh, err := NewLogger(component)
		if err != nil {
			continue
		}
		*old = *fresh
	}
}

// ListComponents returns registered component names, sorted.
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// GetComponentLogger is a shortcut for GetLoggerManager().MustGetLogger.
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger {
	return GetComponentLogger("network")
}

func GetWorldLogger() *Logger {
	return GetComponentLogger("world")
}

func GetChunkLogger() *Logger {
	return GetComponentLogger("chunks")
}

func GetReplicationLogger() *Logger {
	return GetComponentLogger("replication")
}

func GetSyncLogger() *Logger {
	return GetComponentLogger("sync")
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}
