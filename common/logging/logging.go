package logging

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	cst "wuyrush.io/note/constants"
)

// ServiceFormatter is a Formatter that:
// 1. logs the unix time in milliseconds;
// 2. logs specified service/service component name;
type ServiceFormatter struct {
	svcName string
	log.Formatter
}

// I've noticed passing a mutated *log.Entry value to downstream formatter results in logs with panic level
// and empty message, but never sure about why it happens
func (f *ServiceFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Data["epochTimeMillis"] = e.Time.UnixNano() / int64(time.Millisecond)
	e.Data["service"] = f.svcName
	return f.Formatter.Format(e)
}

// SetupLog setups service-specific logging.
func SetupLog(name string) {
	SetupLogTo(os.Stdout, name, viper.GetBool(cst.EnvVerbose))
}

// SetupLogTo is SetupLog with the sink and verbosity spelled out.
func SetupLogTo(w io.Writer, name string, verbose bool) {
	log.SetOutput(w)
	// use unix timestamp instead of zonal one
	f := &ServiceFormatter{
		svcName:   name,
		Formatter: &log.JSONFormatter{DisableTimestamp: true},
	}
	log.SetFormatter(f)
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// WithFuncName returns a *logrus.Entry marked with the name of function calling  WithFuncName
func WithFuncName() *log.Entry {
	return log.WithField(cst.LogFieldFuncName, callerName(2))
}

// FromContext is WithFuncName plus the fields attached to ctx by WithFields.
func FromContext(ctx context.Context) *log.Entry {
	e := log.WithField(cst.LogFieldFuncName, callerName(2))
	if fs, ok := ctx.Value(fieldsKey{}).(log.Fields); ok {
		e = e.WithFields(fs)
	}
	return e
}

type fieldsKey struct{}

// WithFields returns a copy of ctx carrying fs in addition to the fields ctx already carries.
func WithFields(ctx context.Context, fs log.Fields) context.Context {
	merged := log.Fields{}
	if prev, ok := ctx.Value(fieldsKey{}).(log.Fields); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range fs {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func callerName(skip int) string {
	// get the pc of the function that calls the logging helper
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	frs := runtime.CallersFrames([]uintptr{pc})
	fr, _ := frs.Next()
	return fr.Function
}
