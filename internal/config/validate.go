package config

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/pkg/errors"
)

const schema = `
#Config: {
	drone_ip:           string & !=""
	drone_service_host: string & !=""
	drone_service_port: int & >0 & <=65535
	parcel_automat_ip:  string
	reconnect_interval: number & >0
	heartbeat_interval: number & >0
	video_fps:          int & >=1 & <=30
	debounce_window:    number & >=0
	log_level:          "debug" | "info" | "warn" | "warning" | "error"
	log_format:         "json" | "console"
	bus:                "mqtt" | "mock"
	scripts_dir:        string & !=""
	python_bin:         string & !=""
	mqtt_broker:        string
	mqtt_topic_prefix:  string
	private_key:        string

	if bus == "mqtt" {
		mqtt_broker: =~"^(tcp|ssl|ws|wss|mqtt|mqtts)://"
	}
}
`

// Validate checks cfg against the CUE schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return errors.Wrap(err, "compile config schema")
	}

	final := schemaVal.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))
	if err := final.Err(); err != nil {
		return errors.Wrap(err, "schema unify failed")
	}
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return errors.Wrap(err, "schema validation failed")
	}
	return nil
}
