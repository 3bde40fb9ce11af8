package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LookupFunc reads one environment variable
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c from the environment. Unparseable values are errors.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.setInt("PORT", &c.Server.Port)
	if v, ok := e.get("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	e.setBool("CORS_ALLOW_CREDENTIALS", &c.Server.CORSAllowCredentials)
	e.setDuration("GRIDSIM_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	if v, ok := e.get("LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}

	e.setString("GRIDSIM_PARAMETERS_FILE", &c.Simulation.ParametersFile)
	e.setString("GRIDSIM_MODEL_DIR", &c.Simulation.ModelDir)
	e.setFloat("GRIDSIM_MAX_STEP", &c.Simulation.MaxStep)
	e.setFloat("GRIDSIM_RESIDUAL_TOLERANCE", &c.Simulation.ResidualTolerance)
	e.setFloat("GRIDSIM_DAMPING_THRESHOLD", &c.Simulation.DampingThreshold)
	e.setUint64("GRIDSIM_NOISE_SEED", &c.Simulation.NoiseSeed)
	e.setInt("GRIDSIM_STREAM_CAPACITY", &c.Simulation.StreamCapacity)
	e.setDuration("GRIDSIM_HEARTBEAT", &c.Simulation.Heartbeat)

	e.setString("GRIDSIM_ARCHIVE_BACKEND", &c.Archive.Backend)
	e.setString("GRIDSIM_ARCHIVE_DIR", &c.Archive.Dir)
	e.setString("GRIDSIM_S3_BUCKET", &c.Archive.S3.Bucket)
	e.setString("GRIDSIM_S3_PREFIX", &c.Archive.S3.Prefix)
	e.setString("GRIDSIM_S3_REGION", &c.Archive.S3.Region)
	e.setString("GRIDSIM_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	e.setString("GRIDSIM_S3_ACCESS_KEY_ID", &c.Archive.S3.AccessKeyID)
	e.setString("GRIDSIM_S3_SECRET_ACCESS_KEY", &c.Archive.S3.SecretAccessKey)

	e.setString("DATABASE_URL", &c.History.DatabaseURL)
	e.setString("GRIDSIM_DATABASE_URL", &c.History.DatabaseURL)

	e.setString("GRIDSIM_PUBLISH_KIND", &c.Publisher.Kind)
	e.setString("GRIDSIM_PUBLISH_URL", &c.Publisher.URL)

	e.setString("JWT_SECRET", &c.Auth.JWTSecret)
	e.setString("GRIDSIM_JWT_ISSUER", &c.Auth.Issuer)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("environment %s=%q: %w", key, raw, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setUint64(key string, dst *uint64) {
	if v, ok := e.get(key); ok {
		n, err := cast.ToUint64E(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := cast.ToDurationE(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
