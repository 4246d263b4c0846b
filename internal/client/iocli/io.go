package iocli

// IO defines terminal input/output used by CLI commands
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)

	// Confirm asks a yes/no question; anything but an explicit yes is no.
	Confirm(prompt string) (bool, error)
}
