package static

import "github.com/MrSnakeDoc/namebroker/internal/domain"

// File is the top-level structure of the mappings file.
//
//	mappings:
//	  - name: svc-a
//	    spec: tcp/host1:9000
type File struct {
	Mappings []domain.ServiceMapping `yaml:"mappings"`
}
