package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio реализует IO поверх терминала процесса. Источник ввода и вывода
// инжектируются; пароль читается без эха только когда вход — терминал,
// иначе (pipe, тест) читается обычной строкой.
type Stdio struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewStdio returns the process-terminal IO implementation
func NewStdio() *Stdio {
	return &Stdio{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		fd:  int(os.Stdin.Fd()),
	}
}

// NewStdioWith wires explicit reader and writer (piped input, tests)
func NewStdioWith(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: bufio.NewReader(in), out: out, fd: -1}
}

func (s *Stdio) Println(a ...any) {
	fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	input, err := s.in.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func (s *Stdio) ReadPassword(prompt string) (string, error) {
	// Без эха — только на настоящем терминале
	if s.fd >= 0 && term.IsTerminal(s.fd) {
		s.Printf("%s", prompt)
		pwBytes, err := term.ReadPassword(s.fd)
		s.Println("")
		if err != nil {
			return "", err
		}
		return string(pwBytes), nil
	}
	return s.ReadInput(prompt)
}

// Confirm спрашивает да/нет; подтверждением считается только явное y/yes,
// всё остальное (включая пустую строку) — отказ
func (s *Stdio) Confirm(prompt string) (bool, error) {
	answer, err := s.ReadInput(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
