// Package testutils builds synthetic single-cell datasets with planted
// population and batch structure for exercising the analysis stages.
package testutils

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
)

// TypeCol is the ColData column carrying the true population label of each
// simulated cell.
const TypeCol = "type"

// SimConfig describes a synthetic dataset with planted cell populations.
// Population k's marker genes occupy the block
// [k*MarkersPer, (k+1)*MarkersPer) of the gene universe.
type SimConfig struct {
	Genes       int      // gene universe size
	Types       []string // population labels
	CellsPer    int      // cells per population
	MarkersPer  int      // marker genes per population
	BaseRate    float64  // expected count for background genes
	MarkerBoost float64  // rate multiplier on a population's markers
	LibSigma    float64  // lognormal sigma of per-cell size factors
	Seed        uint64
}

func (cfg SimConfig) withDefaults() SimConfig {
	if cfg.MarkersPer == 0 {
		cfg.MarkersPer = 10
	}
	if cfg.BaseRate == 0 {
		cfg.BaseRate = 0.5
	}
	if cfg.MarkerBoost == 0 {
		cfg.MarkerBoost = 20
	}
	if cfg.LibSigma == 0 {
		cfg.LibSigma = 0.3
	}

	return cfg
}

func (cfg SimConfig) validate() {
	if cfg.Genes <= 0 || cfg.CellsPer <= 0 || len(cfg.Types) == 0 {
		panic(fmt.Sprintf("testutils: invalid simulation config %+v", cfg))
	}
	if cfg.Genes < len(cfg.Types)*cfg.MarkersPer {
		panic(fmt.Sprintf("testutils: %d genes cannot hold %d marker blocks of %d",
			cfg.Genes, len(cfg.Types), cfg.MarkersPer))
	}
}

// Simulate returns an experiment with CellsPer cells per population. Counts
// are Poisson draws around population-specific rates scaled by lognormal
// per-cell size factors. ColData carries the TypeCol truth labels.
func Simulate(cfg SimConfig) *experiment.Experiment {
	cfg = cfg.withDefaults()
	cfg.validate()

	rng := rand.New(rand.NewSource(cfg.Seed))

	return simulate(cfg, rng, "cell", nil)
}

// SimulateBatches returns one experiment per batch name over the same gene
// universe and populations. Each batch applies its own lognormal per-gene
// effect of the given sigma, giving the integration stages signal to remove.
func SimulateBatches(cfg SimConfig, batchNames []string, batchSigma float64) []*experiment.Experiment {
	cfg = cfg.withDefaults()
	cfg.validate()

	rng := rand.New(rand.NewSource(cfg.Seed))

	exps := make([]*experiment.Experiment, len(batchNames))
	for i, name := range batchNames {
		effect := make([]float64, cfg.Genes)
		for g := range effect {
			effect[g] = math.Exp(batchSigma * rng.NormFloat64())
		}
		exps[i] = simulate(cfg, rng, name, effect)
	}

	return exps
}

func simulate(cfg SimConfig, rng *rand.Rand, cellPrefix string, geneEffect []float64) *experiment.Experiment {
	geneIDs := make([]string, cfg.Genes)
	for g := range geneIDs {
		geneIDs[g] = fmt.Sprintf("gene%04d", g+1)
	}

	ncells := len(cfg.Types) * cfg.CellsPer
	cellIDs := make([]string, 0, ncells)
	labels := make([]string, 0, ncells)
	for _, label := range cfg.Types {
		for i := 0; i < cfg.CellsPer; i++ {
			cellIDs = append(cellIDs, fmt.Sprintf("%s%04d", cellPrefix, len(cellIDs)+1))
			labels = append(labels, label)
		}
	}

	// Rates per population, marker block boosted.
	rates := make([][]float64, len(cfg.Types))
	for k := range cfg.Types {
		r := make([]float64, cfg.Genes)
		for g := range r {
			r[g] = cfg.BaseRate
			if g >= k*cfg.MarkersPer && g < (k+1)*cfg.MarkersPer {
				r[g] = cfg.BaseRate * cfg.MarkerBoost
			}
			if geneEffect != nil {
				r[g] *= geneEffect[g]
			}
		}
		rates[k] = r
	}

	// Counts are generated cell-major, then assembled gene-major.
	counts := make([][]float64, cfg.Genes)
	for g := range counts {
		counts[g] = make([]float64, ncells)
	}
	c := 0
	for k := range cfg.Types {
		for i := 0; i < cfg.CellsPer; i++ {
			size := math.Exp(cfg.LibSigma * rng.NormFloat64())
			for g := 0; g < cfg.Genes; g++ {
				counts[g][c] = poisson(rng, rates[k][g]*size)
			}
			c++
		}
	}

	mb := matrix.NewBuilder(cellIDs)
	for g, id := range geneIDs {
		if err := mb.AppendRow(id, counts[g]); err != nil {
			panic(fmt.Sprintf("testutils: %v", err))
		}
	}
	sp, err := mb.Build()
	if err != nil {
		panic(fmt.Sprintf("testutils: %v", err))
	}

	colData := experiment.NewTable(cellIDs)
	if err := colData.AddStrCol(TypeCol, labels); err != nil {
		panic(fmt.Sprintf("testutils: %v", err))
	}

	exp, err := experiment.New(sp, nil, colData)
	if err != nil {
		panic(fmt.Sprintf("testutils: %v", err))
	}

	return exp
}

// poisson draws from Poisson(lambda), switching to a normal approximation
// for large rates.
func poisson(rng *rand.Rand, lambda float64) float64 {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		n := math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64())
		if n < 0 {
			return 0
		}

		return n
	}

	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return float64(k)
		}
		k++
	}
}
