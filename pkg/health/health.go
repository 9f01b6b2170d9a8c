package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DependencyChecker функция проверки одной зависимости сервиса
type DependencyChecker func(ctx context.Context) error

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус одной зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Checker проверяет здоровье сервиса и его зависимостей
type Checker struct {
	version      string
	dependencies map[string]DependencyChecker
}

// NewChecker создает новый Checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:      version,
		dependencies: make(map[string]DependencyChecker),
	}
}

// Register добавляет проверку зависимости под указанным именем
func (c *Checker) Register(name string, check DependencyChecker) {
	c.dependencies[name] = check
}

// Check опрашивает все зависимости и возвращает агрегированный статус
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   c.version,
		Services:  make(map[string]Status),
	}

	for name, check := range c.dependencies {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "degraded"
			status.Services[name] = Status{Status: "unhealthy", Details: err.Error()}
		} else {
			status.Services[name] = Status{Status: "healthy"}
		}
	}

	return status
}

// Handler создает HTTP обработчик для health check эндпоинта
func Handler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(status)
	}
}

// ReadyHandler создает HTTP обработчик для ready check эндпоинта
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}
