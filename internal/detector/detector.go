package detector

// Detector is a strategy that determines if a service or process is up.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the target is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
