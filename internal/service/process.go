package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"guardian/internal/logger"

	"github.com/rs/zerolog"
)

// ProcessSpec команда дочернего процесса
type ProcessSpec struct {
	Path string
	Args []string
	Env  []string
}

// Process запущенный дочерний процесс
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Done закрывается после выхода процесса
	Done() <-chan struct{}
}

// Launcher запускает процессы; в тестах подменяется
type Launcher interface {
	// Start запускает долгоживущий процесс и не ждёт его завершения
	Start(ctx context.Context, spec ProcessSpec) (Process, error)
	// Run выполняет команду до конца, передавая каждую строку вывода в onLine
	Run(ctx context.Context, spec ProcessSpec, onLine func(string)) error
}

// maxLineBytes предел одной строки вывода дочернего процесса
const maxLineBytes = 1 << 20

// ExecLauncher запускает реальные процессы через os/exec
type ExecLauncher struct{}

func (ExecLauncher) Start(_ context.Context, spec ProcessSpec) (Process, error) {
	// не CommandContext: сервис живёт дольше запроса, который его поднял
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	out := &logWriter{log: logger.Named("ollama")}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (ExecLauncher) Run(ctx context.Context, spec ProcessSpec, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && onLine != nil {
			onLine(line)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// дочитываем вывод, иначе Wait не дождётся закрытия канала
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s %s: %w", spec.Path, strings.Join(spec.Args, " "), err)
	}
	if scanErr != nil {
		return fmt.Errorf("%s %s: read output: %w", spec.Path, strings.Join(spec.Args, " "), scanErr)
	}
	return nil
}

// scanLinesOrCR делит вывод по \n и \r: прогресс перерисовывается через \r
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *execProcess) Done() <-chan struct{}      { return p.done }

// logWriter пишет вывод дочернего процесса в журнал
type logWriter struct {
	log *zerolog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.log.Debug().Msg(line)
		}
	}
	return len(p), nil
}
