package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

// Simulation field helpers

func RunID(id string) Field {
	return String("run_id", id)
}

func Network(name string) Field {
	return String("network", name)
}

// SimTime is the simulated time, not wall-clock time
func SimTime(t float64) Field {
	return Float64("t", t)
}

func Line(name string) Field {
	return String("line", name)
}

func Bus(index int) Field {
	return Int("bus", index)
}

func Transformer(index int) Field {
	return Int("transformer", index)
}

// Kind tags the event or message kind
func Kind(kind string) Field {
	return String("kind", kind)
}
