// Package peersync exchanges mappings with peer brokers through etcd.
//
// Every broker writes the local mappings it currently sees up under
//
//	Key:   {prefix}{name}
//	Value: spec
//
// attached to a lease kept alive for the life of the process, and watches the
// same prefix to learn what the others publish. A crashed broker's mappings
// vanish when its lease expires.
package peersync

import (
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "/namebroker/mappings/"

// NewClient connects to the given etcd endpoints.
func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// NormalizePrefix makes sure prefix ends with a slash.
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func mappingKey(prefix, name string) string {
	return prefix + name
}

// decode turns a key/value pair under prefix back into a mapping.
func decode(prefix string, kv *mvccpb.KeyValue) (domain.ServiceMapping, bool) {
	if kv == nil {
		return domain.ServiceMapping{}, false
	}
	key := string(kv.Key)
	if !strings.HasPrefix(key, prefix) {
		return domain.ServiceMapping{}, false
	}
	m := domain.ServiceMapping{
		Name: strings.TrimPrefix(key, prefix),
		Spec: string(kv.Value),
	}
	if m.Validate() != nil {
		return domain.ServiceMapping{}, false
	}
	return m, true
}
