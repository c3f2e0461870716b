// Package logger пишет логи клиента асинхронно с префиксом компонента,
// чтобы обработчики realtime-событий и фоновые запросы не ждали вывода.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 4096

// slowThreshold: при уровне info LogDuration пишет только вызовы дольше этого порога.
const slowThreshold = 250 * time.Millisecond

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	out      = log.New(os.Stderr, "", log.LstdFlags)

	ch      chan string
	flushCh chan chan struct{}
	once    sync.Once
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = parseLevel(v)
	}
	ch = make(chan string, asyncBufferSize)
	flushCh = make(chan chan struct{})
	go func() {
		for {
			select {
			case msg := <-ch:
				write(msg)
			case done := <-flushCh:
			drain:
				for {
					select {
					case msg := <-ch:
						write(msg)
					default:
						break drain
					}
				}
				close(done)
			}
		}
	}()
}

func write(msg string) {
	mu.RLock()
	l := out
	mu.RUnlock()
	l.Print(msg)
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// буфер полон: строку теряем, но не блокируем вызывающего
	}
}

func enabled(l level) bool {
	once.Do(initWorker)
	mu.RLock()
	defer mu.RUnlock()
	return l >= logLevel
}

// SetPrefix задаёт префикс для всех последующих строк (например "bridge", "cli").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel переопределяет уровень из конфигурации (debug, info, error).
func SetLevel(s string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

// SetOutput перенаправляет вывод (CLI пишет логи в stderr, тесты: в io.Discard).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = log.New(w, "", log.LstdFlags)
	mu.Unlock()
}

// Flush дожидается записи всех строк из буфера. Вызывать перед выходом из процесса.
func Flush() {
	once.Do(initWorker)
	done := make(chan struct{})
	select {
	case flushCh <- done:
		<-done
	case <-time.After(time.Second):
	}
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	if enabled(levelInfo) {
		enqueue(tag() + fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(levelInfo) {
		enqueue(tag() + fmt.Sprintf(format, v...))
	}
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	if enabled(levelDebug) {
		enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info пишутся только медленные вызовы, на debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(levelDebug) || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("api.ListMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
