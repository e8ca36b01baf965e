package health

import (
	"sync"
	"time"
)

// Status values reported per check and for the aggregate.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// CheckFunc is a function that performs a health check
type CheckFunc func() error

// Check represents a single health check result
type Check struct {
	Name        string
	Status      string
	Message     string
	LastChecked time.Time
}

// Checker manages health checks for a service
type Checker struct {
	mu          sync.RWMutex
	checkFuncs  map[string]CheckFunc
	checks      map[string]*Check
	lastHealthy time.Time
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{
		checkFuncs:  make(map[string]CheckFunc),
		checks:      make(map[string]*Check),
		lastHealthy: time.Now(),
	}
}

// Register adds a named health check to be run by RunAll.
func (c *Checker) Register(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkFuncs[name] = checkFunc
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(name string, checkFunc CheckFunc) {
	status := StatusOK
	message := "OK"

	if err := checkFunc(); err != nil {
		status = StatusError
		message = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = &Check{
		Name:        name,
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}

	if c.isHealthy() {
		c.lastHealthy = time.Now()
	}
}

// RunAll executes every registered check and returns the results.
func (c *Checker) RunAll() []*Check {
	c.mu.RLock()
	funcs := make(map[string]CheckFunc, len(c.checkFuncs))
	for name, fn := range c.checkFuncs {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	for name, fn := range funcs {
		c.RunCheck(name, fn)
	}
	return c.GetAllChecks()
}

// GetOverallStatus returns the overall health status. The aggregate is ok
// only when every check is ok.
func (c *Checker) GetOverallStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.checks) == 0 {
		return StatusOK
	}

	for _, check := range c.checks {
		if check.Status != StatusOK {
			return StatusDegraded
		}
	}
	return StatusOK
}

// GetAllChecks returns all health check results
func (c *Checker) GetAllChecks() []*Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var checks []*Check
	for _, check := range c.checks {
		checkCopy := *check
		checks = append(checks, &checkCopy)
	}

	return checks
}

// GetLastHealthyTime returns the last time all checks were healthy
func (c *Checker) GetLastHealthyTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthy
}

func (c *Checker) isHealthy() bool {
	for _, check := range c.checks {
		if check.Status != StatusOK {
			return false
		}
	}
	return true
}
