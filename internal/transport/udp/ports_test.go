package udp

import "testing"

func TestComputePortMappingDomainZero(t *testing.T) {
	got := ComputePortMapping(0, 0)
	want := PortMapping{
		MetatrafficMulticast: 7400,
		MetatrafficUnicast:   7410,
		UserDataMulticast:    7401,
		UserDataUnicast:      7411,
	}
	if got != want {
		t.Fatalf("domain 0, participant 0: got %+v, want %+v", got, want)
	}
}

func TestComputePortMappingParticipantOffset(t *testing.T) {
	got := ComputePortMapping(0, 1)
	if got.MetatrafficUnicast != 7412 {
		t.Fatalf("participant 1 metatraffic unicast: got %d, want 7412", got.MetatrafficUnicast)
	}
	if got.UserDataUnicast != 7413 {
		t.Fatalf("participant 1 user-data unicast: got %d, want 7413", got.UserDataUnicast)
	}
}

func TestComputePortMappingDomainOffset(t *testing.T) {
	got := ComputePortMapping(1, 0)
	if got.MetatrafficMulticast != 7650 {
		t.Fatalf("domain 1 metatraffic multicast: got %d, want 7650", got.MetatrafficMulticast)
	}
}
