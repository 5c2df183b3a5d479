package config

import (
	"fmt"
	"os"

	"appointly/internal/models"

	"gopkg.in/yaml.v2"
)

type catalogFile struct {
	Services []models.Service `yaml:"services"`
}

// LoadServices reads the service catalog seed file.
func LoadServices(path string) ([]models.Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &catalog); err != nil {
		return nil, fmt.Errorf("parse services: %w", err)
	}

	for i := range catalog.Services {
		if catalog.Services[i].Currency == "" {
			catalog.Services[i].Currency = models.DefaultCurrency
		}
	}

	if err := ValidateServices(catalog.Services); err != nil {
		return nil, err
	}
	return catalog.Services, nil
}

func ValidateServices(services []models.Service) error {
	ids := make(map[string]bool)
	for _, s := range services {
		if s.ID == "" {
			return fmt.Errorf("service '%s' has empty ID", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate service ID found: %s", s.ID)
		}
		ids[s.ID] = true

		if s.DurationMinutes <= 0 || s.DurationMinutes > models.MaxDurationMinutes {
			return fmt.Errorf("service %s has invalid duration %d", s.ID, s.DurationMinutes)
		}
		if s.PriceCents < 0 {
			return fmt.Errorf("service %s has negative price", s.ID)
		}
	}
	return nil
}
