package domain

// DrugGene pairs a supported drug with the pharmacogene governing its metabolism.
type DrugGene struct {
	Drug string `json:"drug"`
	Gene string `json:"gene"`
}

// DrugGeneRegistry is the immutable mapping of supported drugs to their genes.
// It is built once and only read afterwards, so it is safe for concurrent use.
type DrugGeneRegistry struct {
	entries []DrugGene
	index   map[string]string
}

// NewDrugGeneRegistry builds a registry from the given pairs, preserving their order.
// A repeated drug keeps its first gene.
func NewDrugGeneRegistry(pairs ...DrugGene) *DrugGeneRegistry {
	r := &DrugGeneRegistry{
		entries: make([]DrugGene, 0, len(pairs)),
		index:   make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		if _, exists := r.index[p.Drug]; exists {
			continue
		}
		r.entries = append(r.entries, p)
		r.index[p.Drug] = p.Gene
	}
	return r
}

var defaultRegistry = NewDrugGeneRegistry(
	DrugGene{Drug: "CODEINE", Gene: "CYP2D6"},
	DrugGene{Drug: "WARFARIN", Gene: "CYP2C9"},
	DrugGene{Drug: "CLOPIDOGREL", Gene: "CYP2C19"},
	DrugGene{Drug: "SIMVASTATIN", Gene: "SLCO1B1"},
	DrugGene{Drug: "AZATHIOPRINE", Gene: "TPMT"},
	DrugGene{Drug: "FLUOROURACIL", Gene: "DPYD"},
)

// DefaultRegistry returns the process-wide registry of the six supported drugs.
func DefaultRegistry() *DrugGeneRegistry {
	return defaultRegistry
}

// GeneFor returns the governing gene for drug.
func (r *DrugGeneRegistry) GeneFor(drug string) (string, bool) {
	gene, ok := r.index[drug]
	return gene, ok
}

// IsSupported reports whether drug is in the registry.
func (r *DrugGeneRegistry) IsSupported(drug string) bool {
	_, ok := r.index[drug]
	return ok
}

// SupportedDrugs returns the drug identifiers in registry order.
func (r *DrugGeneRegistry) SupportedDrugs() []string {
	drugs := make([]string, len(r.entries))
	for i, e := range r.entries {
		drugs[i] = e.Drug
	}
	return drugs
}

// Entries returns a copy of the registry pairs.
func (r *DrugGeneRegistry) Entries() []DrugGene {
	out := make([]DrugGene, len(r.entries))
	copy(out, r.entries)
	return out
}
