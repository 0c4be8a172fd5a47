package runner

// SetLookPath replaces exec.LookPath for tests.
func (e *Exec) SetLookPath(fn func(string) (string, error)) {
	e.lookPath = fn
}
