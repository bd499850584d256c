package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		// appenders are shared with subloggers so an appender added to the root logger is seen by
		// every subsystem logger created from it.
		appenders *appenderSet
	}

	appenderSet struct {
		mu   sync.RWMutex
		list []Appender
	}

	// LogEntry is one rendered log call.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     inUTC,
		appenders: &appenderSet{list: appenders},
	}
}

func (set *appenderSet) add(appender Appender) {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.list = append(set.list, appender)
}

func (set *appenderSet) snapshot() []Appender {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return set.list
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders.add(appender)
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.AsZap().Desugar()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Level() zapcore.Level {
	return imp.GetLevel().AsZap()
}

// Sublogger returns a logger named "<parent>.<subname>" that starts at the parent's level and
// writes to the same appenders.
func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Named(name string) *zap.SugaredLogger {
	return imp.AsZap().Named(name)
}

// Sync flushes every appender.
func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders.snapshot() {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// AsZap returns a zap logger that forwards to the appenders implementing `zapcore.Core`, such as
// the in-memory observer used by tests.
func (imp *impl) AsZap() *zap.SugaredLogger {
	var cores []zapcore.Core
	for _, appender := range imp.appenders.snapshot() {
		if core, ok := appender.(zapcore.Core); ok {
			cores = append(cores, core)
		}
	}

	config := NewZapLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(imp.Level())
	ret := zap.Must(config.Build()).Sugar().Named(imp.name)
	for _, core := range cores {
		ret = ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}

	return ret
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.level.Get()
}

// logAt builds and writes one entry. msg is only rendered when the level is enabled. Every public
// logging method calls logAt directly so callerFrame can find the user's frame.
func (imp *impl) logAt(level Level, msg func() string, keysAndValues []interface{}) {
	if !imp.enabled(level) {
		return
	}
	entry := imp.newEntry(level, msg(), keysAndValues)
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders.snapshot() {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

func (imp *impl) newEntry(level Level, msg string, keysAndValues []interface{}) *LogEntry {
	entry := &LogEntry{fields: pairFields(keysAndValues)}
	entry.Time = time.Now()
	entry.LoggerName = imp.name
	entry.Level = level.AsZap()
	entry.Message = msg
	entry.Caller = callerFrame()
	return entry
}

// pairFields turns alternating keys and values into zap fields. A trailing key without a value
// is kept with an error in its place.
func pairFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errUnpairedKey))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

var errUnpairedKey = errors.New("unpaired log key")

func sprint(args []interface{}) func() string {
	return func() string { return fmt.Sprint(args...) }
}

func sprintf(template string, args []interface{}) func() string {
	return func() string { return fmt.Sprintf(template, args...) }
}

func text(msg string) func() string {
	return func() string { return msg }
}

func (imp *impl) Debug(args ...interface{}) { imp.logAt(DEBUG, sprint(args), nil) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.logAt(DEBUG, sprintf(template, args), nil)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logAt(DEBUG, text(msg), keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.logAt(INFO, sprint(args), nil) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.logAt(INFO, sprintf(template, args), nil)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logAt(INFO, text(msg), keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.logAt(WARN, sprint(args), nil) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.logAt(WARN, sprintf(template, args), nil)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logAt(WARN, text(msg), keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.logAt(ERROR, sprint(args), nil) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.logAt(ERROR, sprintf(template, args), nil)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logAt(ERROR, text(msg), keysAndValues)
}

// Fatal logs at ERROR, the highest level, and exits.
func (imp *impl) Fatal(args ...interface{}) {
	imp.logAt(ERROR, sprint(args), nil)
	os.Exit(1)
}

// Fatalf logs at ERROR and exits.
func (imp *impl) Fatalf(template string, args ...interface{}) {
	imp.logAt(ERROR, sprintf(template, args), nil)
	os.Exit(1)
}

// Fatalw logs at ERROR and exits.
func (imp *impl) Fatalw(msg string, keysAndValues ...interface{}) {
	imp.logAt(ERROR, text(msg), keysAndValues)
	os.Exit(1)
}

// callerFrame reports the code that called a Logger method. The stack at this point is
// callerFrame, newEntry, logAt, the Logger method, then the caller.
func callerFrame() zapcore.EntryCaller {
	const depth = 4
	pc, file, line, ok := runtime.Caller(depth)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
