// Package backends registers every pub/sub backend with the default registry.
// Import it for its side effects:
//
//	import _ "github.com/drblury/sockflow/pubsub/backends"
package backends

import (
	_ "github.com/drblury/sockflow/pubsub/aws"
	_ "github.com/drblury/sockflow/pubsub/channel"
	_ "github.com/drblury/sockflow/pubsub/http"
	_ "github.com/drblury/sockflow/pubsub/kafka"
	_ "github.com/drblury/sockflow/pubsub/nats"
	_ "github.com/drblury/sockflow/pubsub/rabbitmq"
)
