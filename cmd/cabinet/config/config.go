package config

import (
	"harnscabinet/pkg/cabinet"
)

type Config struct {
	Cabinet  *cabinet.Manager
	CertFile string
	KeyFile  string
}
