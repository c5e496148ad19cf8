package config

import (
	_ "github.com/any-hub/pagecache/internal/pages/sample"
)
