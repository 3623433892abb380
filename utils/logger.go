package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrick/logrotate/rotator"
)

type LogLevel int

const (
	LogLevelError = LogLevel(1 << iota)
	LogLevelInfo
	LogLevelNotice
	LogLevelDebug
)

var GlobalLogLevel = LogLevelError | LogLevelInfo

// LogFile adds the calling file and line to every line, LogFunc the calling function as well
var LogFile, LogFunc bool

const (
	logRotateThresholdKB = 10 * 1024
	logRotateKeep        = 3
)

var (
	logBufPool = sync.Pool{
		New: func() any {
			return make([]byte, 0, 512)
		},
	}

	logOutput atomic.Pointer[io.Writer]

	logRotatorLock sync.Mutex
	logRotator     *rotator.Rotator
)

func IsLogLevelDebug() bool {
	return GlobalLogLevel&LogLevelDebug > 0
}

func Fatalf(format string, v ...any) {
	logf(0, "", "FATAL", format, v...)
	os.Exit(1)
}

func Errorf(prefix, format string, v ...any) {
	logf(LogLevelError, prefix, "ERROR", format, v...)
}

func Logf(prefix, format string, v ...any) {
	logf(LogLevelInfo, prefix, "INFO", format, v...)
}

func Noticef(prefix, format string, v ...any) {
	logf(LogLevelNotice, prefix, "NOTICE", format, v...)
}

func Debugf(prefix, format string, v ...any) {
	logf(LogLevelDebug, prefix, "DEBUG", format, v...)
}

// SetLogFile Tees all log lines into a size rotated file, 10 MiB per file with 3 rolls kept
func SetLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	r, err := rotator.New(path, logRotateThresholdKB, false, logRotateKeep)
	if err != nil {
		return err
	}

	logRotatorLock.Lock()
	defer logRotatorLock.Unlock()
	if logRotator != nil {
		_ = logRotator.Close()
	}
	logRotator = r

	w := io.MultiWriter(os.Stdout, r)
	logOutput.Store(&w)
	return nil
}

// CloseLogFile Flushes and closes the rotated log file, if any. Output returns to stdout only.
func CloseLogFile() {
	logOutput.Store(nil)

	logRotatorLock.Lock()
	defer logRotatorLock.Unlock()
	if logRotator != nil {
		_ = logRotator.Close()
		logRotator = nil
	}
}

// logf level 0 is always printed
func logf(level LogLevel, prefix, class, format string, v ...any) {
	if level != 0 && GlobalLogLevel&level == 0 {
		return
	}

	buf := logBufPool.Get().([]byte)[:0]
	defer logBufPool.Put(buf)

	buf = appendHeader(buf, prefix, class)
	buf = fmt.Appendf(buf, format, v...)
	buf = append(bytes.TrimSpace(buf), '\n')

	if w := logOutput.Load(); w != nil {
		_, _ = (*w).Write(buf)
		return
	}
	_, _ = os.Stdout.Write(buf)
}

func appendHeader(buf []byte, prefix, class string) []byte {
	buf = time.Now().UTC().AppendFormat(buf, "2006-01-02 15:04:05.000")
	if !LogFile {
		return fmt.Appendf(buf, " [%s] %s ", prefix, class)
	}

	// logf and its exported wrapper sit between us and the caller
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		file, line = "???", 0
	}
	buf = fmt.Appendf(buf, " %s:%d", filepath.Base(file), line)

	if LogFunc && ok {
		if details := runtime.FuncForPC(pc); details != nil {
			name := details.Name()
			buf = fmt.Appendf(buf, ":%s", name[strings.LastIndexByte(name, '.')+1:])
		}
	}
	return fmt.Appendf(buf, " [%s] %s ", prefix, class)
}
