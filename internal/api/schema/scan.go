package schema

// Connection specifies the target database of a scan or analysis.
type Connection struct {
	Host     string `json:"host" doc:"Database host"`
	Port     int    `json:"port,omitempty" doc:"Port, defaults to 3306"`
	User     string `json:"user" doc:"User name"`
	Password string `json:"password,omitempty"`
	Database string `json:"database" doc:"Schema to inspect"`
	TLS      bool   `json:"tls,omitempty" doc:"Use TLS (skip-verify)"`
}

// StartScan is the input for launching a scan.
type StartScan struct {
	Connection
	ScanType string `json:"scan_type,omitempty" enum:"full,intelligence,workload" default:"intelligence"`
}

// JobAccepted acknowledges an asynchronous job launch.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
