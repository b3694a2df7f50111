package topic

import "github.com/helianthus/broker/internal/resultcode"

func errSubscriberLimitExceeded(topicName string) error {
	return resultcode.New(resultcode.ConsumerLimitExceeded, topicName)
}
