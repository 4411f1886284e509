package defaults

import "time"

const (
	// TLSHandshakeTimeout bounds the upstream TLS handshake.
	TLSHandshakeTimeout = 10 * time.Second
	// InspectorConnectTimeout bounds dialing the inspector websocket.
	InspectorConnectTimeout = 10 * time.Second
	// InspectorWriteTimeout bounds each activation command write.
	InspectorWriteTimeout = 5 * time.Second
	// UploadTimeout bounds the publish upload round trip.
	UploadTimeout = 60 * time.Second
)

const (
	// HTTPReadHeaderTimeout protects the local listener from stalled clients.
	HTTPReadHeaderTimeout = 10 * time.Second
	// HTTPIdleTimeout closes idle keep-alive connections.
	HTTPIdleTimeout = 60 * time.Second
	// HTTPMaxHeaderBytes caps request header size on the local listener.
	HTTPMaxHeaderBytes = 1 << 20
)
