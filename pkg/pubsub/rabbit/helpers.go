package rabbit

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func Dsec(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func SafeClose(ch *amqp.Channel) error {
	if ch == nil {
		return nil
	}
	defer func() { _ = recover() }()
	return ch.Close()
}
