// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

const (
	// PortProtocolTCP is the TCP transport protocol for port mappings.
	PortProtocolTCP PortProtocol = "tcp"
	// PortProtocolUDP is the UDP transport protocol for port mappings.
	PortProtocolUDP PortProtocol = "udp"
)

var (
	// ErrInvalidImageTag is the sentinel wrapped by InvalidImageTagError.
	ErrInvalidImageTag = errors.New("invalid image tag")
	// ErrInvalidContainerID is the sentinel wrapped by InvalidContainerIDError.
	ErrInvalidContainerID = errors.New("invalid container id")
	// ErrInvalidPortProtocol is the sentinel wrapped by InvalidPortProtocolError.
	ErrInvalidPortProtocol = errors.New("invalid port protocol")
	// ErrInvalidNetworkPort is the sentinel wrapped by InvalidNetworkPortError.
	ErrInvalidNetworkPort = errors.New("invalid network port")
	// ErrInvalidPortMapping is the sentinel wrapped by InvalidPortMappingError.
	ErrInvalidPortMapping = errors.New("invalid port mapping")
)

type (
	// ImageTag is an image reference understood by the engine: a name with an
	// optional tag or digest, or a bare image ID.
	ImageTag string

	// InvalidImageTagError is returned when an ImageTag does not parse.
	InvalidImageTagError struct {
		Value ImageTag
		Cause error
	}

	// ContainerID is an engine-assigned container ID or a container name.
	ContainerID string

	// InvalidContainerIDError is returned when a ContainerID is empty.
	InvalidContainerIDError struct {
		Value ContainerID
	}

	// PortProtocol represents a network transport protocol.
	// The zero value ("") is valid and means "default to tcp".
	PortProtocol string

	// InvalidPortProtocolError is returned when a PortProtocol is not tcp or udp.
	InvalidPortProtocolError struct {
		Value PortProtocol
	}

	// NetworkPort is a TCP/UDP port number. Zero is invalid.
	NetworkPort uint16

	// InvalidNetworkPortError is returned when a NetworkPort value is zero.
	InvalidNetworkPortError struct {
		Value NetworkPort
	}

	// PortMapping publishes a container port on the host.
	PortMapping struct {
		HostPort      NetworkPort
		ContainerPort NetworkPort
		Protocol      PortProtocol
	}

	// InvalidPortMappingError is returned when a PortMapping has invalid fields.
	InvalidPortMappingError struct {
		Value     PortMapping
		FieldErrs []error
	}

	// PublishedPort is one line of "port" output.
	PublishedPort struct {
		ContainerPort NetworkPort
		Protocol      PortProtocol
		HostIP        string
		HostPort      NetworkPort
	}
)

func (t ImageTag) String() string { return string(t) }

// Validate returns an error if t is neither an image reference nor an image ID.
func (t ImageTag) Validate() error {
	s := string(t)
	if s == "" {
		return &InvalidImageTagError{Value: t, Cause: errors.New("empty")}
	}
	if strings.HasPrefix(s, "sha256:") {
		return nil
	}
	if _, err := name.ParseReference(s); err != nil {
		return &InvalidImageTagError{Value: t, Cause: err}
	}
	return nil
}

func (e *InvalidImageTagError) Error() string {
	return fmt.Sprintf("invalid image tag %q: %v", e.Value, e.Cause)
}

func (e *InvalidImageTagError) Unwrap() error { return ErrInvalidImageTag }

func (id ContainerID) String() string { return string(id) }

// Short returns the first 12 characters of the ID.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// Validate returns an error if id is empty or whitespace-only.
func (id ContainerID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return &InvalidContainerIDError{Value: id}
	}
	return nil
}

func (e *InvalidContainerIDError) Error() string {
	return fmt.Sprintf("invalid container id %q: must be non-empty", e.Value)
}

func (e *InvalidContainerIDError) Unwrap() error { return ErrInvalidContainerID }

func (e *InvalidPortProtocolError) Error() string {
	return fmt.Sprintf("invalid port protocol %q (valid: tcp, udp)", e.Value)
}

func (e *InvalidPortProtocolError) Unwrap() error { return ErrInvalidPortProtocol }

// Validate returns an error if the PortProtocol is not one of the defined protocols.
func (p PortProtocol) Validate() error {
	switch p {
	case PortProtocolTCP, PortProtocolUDP, "":
		return nil
	default:
		return &InvalidPortProtocolError{Value: p}
	}
}

// OrDefault returns tcp for the zero value.
func (p PortProtocol) OrDefault() PortProtocol {
	if p == "" {
		return PortProtocolTCP
	}
	return p
}

func (p PortProtocol) String() string { return string(p) }

func (p NetworkPort) String() string { return strconv.Itoa(int(p)) }

// Validate returns an error if the port is zero.
func (p NetworkPort) Validate() error {
	if p == 0 {
		return &InvalidNetworkPortError{Value: p}
	}
	return nil
}

func (e *InvalidNetworkPortError) Error() string {
	return fmt.Sprintf("invalid network port %d: must be greater than zero", e.Value)
}

func (e *InvalidNetworkPortError) Unwrap() error { return ErrInvalidNetworkPort }

func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %d:%d/%s: %d field error(s)",
		e.Value.HostPort, e.Value.ContainerPort, e.Value.Protocol, len(e.FieldErrs))
}

func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// Validate returns an error if any field of the PortMapping is invalid.
func (p PortMapping) Validate() error {
	var errs []error
	if err := p.HostPort.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := p.ContainerPort.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := p.Protocol.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidPortMappingError{Value: p, FieldErrs: errs}
	}
	return nil
}

// String returns the mapping in "host:container/protocol" form, the -p flag syntax.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol.OrDefault())
}

// ParsePortMapping parses "hostPort:containerPort[/protocol]".
func ParsePortMapping(s string) (PortMapping, error) {
	var mapping PortMapping

	hostStr, containerStr, ok := strings.Cut(s, ":")
	if !ok {
		return mapping, fmt.Errorf("invalid port mapping format %q: must contain ':' separator", s)
	}

	hostPort, err := strconv.ParseUint(hostStr, 10, 16)
	if err != nil {
		return mapping, fmt.Errorf("invalid host port %q: %w", hostStr, err)
	}
	mapping.HostPort = NetworkPort(hostPort)

	portStr, proto, _ := strings.Cut(containerStr, "/")
	containerPort, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return mapping, fmt.Errorf("invalid container port %q: %w", portStr, err)
	}
	mapping.ContainerPort = NetworkPort(containerPort)
	mapping.Protocol = PortProtocol(proto)

	if err := mapping.Validate(); err != nil {
		return mapping, err
	}
	return mapping, nil
}

// Key returns "port/protocol", the form images use for exposed ports.
func (p PublishedPort) Key() string {
	return fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol.OrDefault())
}

// ParsePortOutput parses "port" command output, one binding per line:
//
//	8000/tcp -> 0.0.0.0:49153
//	8000/tcp -> [::]:49153
func ParsePortOutput(out string) ([]PublishedPort, error) {
	var ports []PublishedPort
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		left, right, ok := strings.Cut(line, "->")
		if !ok {
			return nil, fmt.Errorf("unexpected port output line %q", line)
		}

		portStr, proto, _ := strings.Cut(strings.TrimSpace(left), "/")
		containerPort, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("unexpected container port in %q: %w", line, err)
		}

		host, hostPortStr, err := net.SplitHostPort(strings.TrimSpace(right))
		if err != nil {
			return nil, fmt.Errorf("unexpected host address in %q: %w", line, err)
		}
		hostPort, err := strconv.ParseUint(hostPortStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("unexpected host port in %q: %w", line, err)
		}

		ports = append(ports, PublishedPort{
			ContainerPort: NetworkPort(containerPort),
			Protocol:      PortProtocol(proto).OrDefault(),
			HostIP:        host,
			HostPort:      NetworkPort(hostPort),
		})
	}
	return ports, nil
}
