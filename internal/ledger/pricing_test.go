package ledger

import "testing"

func TestLookupExactMatch(t *testing.T) {
	table := NewPricingTable()

	pricing, ok := table.Lookup("gpt-4o")
	if !ok {
		t.Fatal("expected a pricing match for gpt-4o")
	}
	if pricing.InputPer1M != 2.5 {
		t.Errorf("expected InputPer1M=2.5, got %f", pricing.InputPer1M)
	}
}

func TestLookupFamilyFallback(t *testing.T) {
	table := NewPricingTable()

	// A dated release name should resolve through its family.
	pricing, ok := table.Lookup("claude-3-5-sonnet-20241022")
	if !ok {
		t.Fatal("expected a family match")
	}
	if pricing.Model != "claude-3-5-sonnet" {
		t.Errorf("expected claude-3-5-sonnet family, got %s", pricing.Model)
	}
}

func TestLookupLongestFamilyWins(t *testing.T) {
	table := &PricingTable{pricing: make(map[string]*ModelPricing)}
	table.AddPricing(&ModelPricing{Model: "test-model", InputPer1M: 30.0, OutputPer1M: 60.0})
	table.AddPricing(&ModelPricing{Model: "test-model-pro", InputPer1M: 2.5, OutputPer1M: 10.0})

	pricing, ok := table.Lookup("test-model-pro-v2")
	if !ok {
		t.Fatal("expected a match")
	}
	if pricing.Model != "test-model-pro" {
		t.Errorf("expected longest family test-model-pro, got %s", pricing.Model)
	}
}

func TestLookupUnknownModelUsesDefault(t *testing.T) {
	table := &PricingTable{pricing: make(map[string]*ModelPricing)}

	pricing, ok := table.Lookup("never-heard-of-it")
	if ok {
		t.Error("expected no real match for an unknown model")
	}
	if pricing.InputPer1M != defaultPricing.InputPer1M || pricing.OutputPer1M != defaultPricing.OutputPer1M {
		t.Errorf("expected default pricing, got %+v", pricing)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	table := NewPricingTable()

	pricing, _ := table.Lookup("gpt-4o")
	pricing.InputPer1M = 999.0

	again, _ := table.Lookup("gpt-4o")
	if again.InputPer1M != 2.5 {
		t.Errorf("table entry mutated through returned value: %f", again.InputPer1M)
	}
}

func TestAddPricingOverrides(t *testing.T) {
	table := NewPricingTable()
	table.AddPricing(&ModelPricing{Model: "gpt-4o", InputPer1M: 1.0, OutputPer1M: 2.0})

	pricing, ok := table.Lookup("gpt-4o")
	if !ok || pricing.InputPer1M != 1.0 {
		t.Errorf("expected override to take effect, got %+v", pricing)
	}
}
