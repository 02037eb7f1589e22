// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestImageTagValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag     ImageTag
		wantErr bool
	}{
		{"gateway:dev", false},
		{"registry.example.com/team/gateway:1.0", false},
		{"python@sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", false},
		{"sha256:abc", false},
		{"", true},
		{"Bad Tag", true},
	}
	for _, tt := range tests {
		err := tt.tag.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("ImageTag(%q).Validate() = %v, wantErr %v", tt.tag, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidImageTag) {
			t.Errorf("error should wrap ErrInvalidImageTag: %v", err)
		}
	}
}

func TestContainerID(t *testing.T) {
	t.Parallel()

	if err := ContainerID(" ").Validate(); !errors.Is(err, ErrInvalidContainerID) {
		t.Errorf("Validate() = %v", err)
	}
	if got := ContainerID("abc").Short(); got != "abc" {
		t.Errorf("Short() = %q", got)
	}
}

func TestParsePortMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    PortMapping
		wantErr error
	}{
		{"8000:8000", PortMapping{HostPort: 8000, ContainerPort: 8000}, nil},
		{"18000:8000/tcp", PortMapping{HostPort: 18000, ContainerPort: 8000, Protocol: "tcp"}, nil},
		{"53:53/udp", PortMapping{HostPort: 53, ContainerPort: 53, Protocol: "udp"}, nil},
		{"0:8000", PortMapping{}, ErrInvalidPortMapping},
		{"1:2/sctp", PortMapping{}, ErrInvalidPortMapping},
	}
	for _, tt := range tests {
		got, err := ParsePortMapping(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParsePortMapping(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePortMapping(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePortMapping(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"8000", "x:8000", "8000:y", "70000:8000"} {
		if _, err := ParsePortMapping(bad); err == nil {
			t.Errorf("ParsePortMapping(%q) should fail", bad)
		}
	}
}

func TestPortMappingString(t *testing.T) {
	t.Parallel()

	if got := (PortMapping{HostPort: 8000, ContainerPort: 8000}).String(); got != "8000:8000/tcp" {
		t.Errorf("String() = %q", got)
	}
}

func TestParsePortOutput(t *testing.T) {
	t.Parallel()

	got, err := ParsePortOutput("\n8000/tcp -> 127.0.0.1:8000\n")
	if err != nil {
		t.Fatal(err)
	}
	want := []PublishedPort{{ContainerPort: 8000, Protocol: "tcp", HostIP: "127.0.0.1", HostPort: 8000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got[0].Key() != "8000/tcp" {
		t.Errorf("Key() = %q", got[0].Key())
	}

	for _, bad := range []string{"garbage", "x/tcp -> 0.0.0.0:1", "8000/tcp -> nohost"} {
		if _, err := ParsePortOutput(bad); err == nil {
			t.Errorf("ParsePortOutput(%q) should fail", bad)
		}
	}

	empty, err := ParsePortOutput("")
	if err != nil || len(empty) != 0 {
		t.Errorf("ParsePortOutput(\"\") = %v, %v", empty, err)
	}
}

func TestEngineTypeValidate(t *testing.T) {
	t.Parallel()

	for _, et := range []EngineType{EngineTypeDocker, EngineTypePodman} {
		if err := et.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", et, err)
		}
	}
	if err := EngineType("containerd").Validate(); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("Validate() = %v", err)
	}
	if _, err := NewEngine("containerd"); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("NewEngine() = %v", err)
	}
}

func TestEngineNotAvailableError(t *testing.T) {
	t.Parallel()

	err := error(&EngineNotAvailableError{Engine: "docker", Reason: "missing"})
	if !errors.Is(err, ErrEngineNotAvailable) {
		t.Error("should wrap ErrEngineNotAvailable")
	}
}

func TestImageInfoExposedTCPPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		exposed []string
		want    NetworkPort
		wantErr bool
	}{
		{"none", nil, 0, false},
		{"single", []string{"8000/tcp"}, 8000, false},
		{"no protocol", []string{"9000"}, 9000, false},
		{"udp ignored", []string{"8000/tcp", "5353/udp"}, 8000, false},
		{"several", []string{"8000/tcp", "9000/tcp"}, 0, true},
		{"invalid", []string{"http/tcp"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var info ImageInfo
			info.Config.ExposedPorts = make(map[string]struct{}, len(tt.exposed))
			for _, p := range tt.exposed {
				info.Config.ExposedPorts[p] = struct{}{}
			}
			got, err := info.ExposedTCPPort()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExposedTCPPort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExposedTCPPort() = %d, want %d", got, tt.want)
			}
		})
	}
}
