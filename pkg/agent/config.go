package agent

import "time"

// Config points to the data directory and the user-driven layout file.
// Live reload only applies to the layout file.
type Config struct {
	DataDir      string `json:"dataDir"`
	LayoutConfig string `json:"layoutConfig"`
	// MetricsAddr serves /metrics when set, e.g. ":9100".
	MetricsAddr   string        `json:"metricsAddr"`
	FrameInterval time.Duration `json:"frameInterval"`
	LogLevel      string        `json:"logLevel"`
	// RecordPath captures every raw event as a replayable JSON lines file.
	RecordPath string `json:"recordPath"`
}

const DefaultFrameInterval = 4 * time.Millisecond
