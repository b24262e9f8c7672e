package netparams

import "testing"

func TestGetKnownNetworks(t *testing.T) {
	for _, name := range []string{"bitcoin-testnet", "litecoin"} {
		p, ok := Get(name)
		if !ok {
			t.Fatalf("expected %q to be registered", name)
		}
		if p.Name != name {
			t.Errorf("Name = %q, want %q", p.Name, name)
		}
	}
}

func TestGetUnknownNetwork(t *testing.T) {
	if _, ok := Get("dogecoin-mainnet"); ok {
		t.Fatal("expected unknown network to be absent")
	}
}

func TestLitecoinAuxChains(t *testing.T) {
	p, ok := Get("litecoin")
	if !ok {
		t.Fatal("litecoin must be registered")
	}
	if len(p.AuxChains) != 1 || p.AuxChains[0].Name != "dogecoin" {
		t.Errorf("expected litecoin to carry a dogecoin aux slot, got %+v", p.AuxChains)
	}
}

func TestMustGetPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustGet to panic on unknown network")
		}
	}()
	MustGet("not-a-real-network")
}
