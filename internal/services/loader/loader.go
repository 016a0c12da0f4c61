// Package loader registers every service with the registry via blank imports.
package loader

import (
	_ "github.com/kinship-app/kinship/internal/services/api"
)
