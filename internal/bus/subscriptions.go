package bus

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type handlerFunc func(payload []byte) error

type subscription struct {
	topic   string
	handler handlerFunc
}

// subscriptions is the list of topics the adapter listens to. It is applied
// again on every (re)connect because the broker session is not persistent.
type subscriptions struct {
	prefix string
	log    zerolog.Logger
	subs   []subscription
}

func newSubscriptions(prefix string, log zerolog.Logger) *subscriptions {
	return &subscriptions{prefix: prefix, log: log}
}

func (ss *subscriptions) add(topic string, handler handlerFunc) {
	ss.subs = append(ss.subs, subscription{topic: ss.prefix + topic, handler: handler})
}

func (ss *subscriptions) subscribe(client mqtt.Client, timeout time.Duration) error {
	for _, s := range ss.subs {
		s := s
		tok := client.Subscribe(s.topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
			if err := s.handler(msg.Payload()); err != nil {
				ss.log.Warn().Err(err).Str("topic", s.topic).Msg("Dropping bus message")
			}
		})
		if !tok.WaitTimeout(timeout) {
			return errors.Errorf("Timeout subscribing to topic %s", s.topic)
		}
		if err := tok.Error(); err != nil {
			return errors.WithMessagef(err, "Unable to subscribe to topic %s", s.topic)
		}
	}
	return nil
}
