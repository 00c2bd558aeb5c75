package indicator

import (
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/model"
)

// catalog is indexed by PresetID; the order is the display order.
var catalog = [presetCount]Preset{
	PresetSMA:                  {Name: "SMA", Script: smaScript, Func: SMA(DefaultPeriod)},
	PresetEMA:                  {Name: "EMA", Script: emaScript, Func: EMA(DefaultPeriod)},
	PresetCohortSpread:         {Name: "Cohort Spread (Bio)", Script: cohortSpreadScript, Func: cohortSpread},
	PresetFamilyMigration:      {Name: "Family Migration (Demo)", Script: familyMigrationScript, Func: familyMigration},
	PresetYouthDependency:      {Name: "Youth Dependency (Enrol)", Script: youthDependencyScript, Func: youthDependency},
	PresetBiometricDebt:        {Name: "Future Biometric Debt", Script: biometricDebtScript, Func: biometricDebt},
	PresetCointegration:        {Name: "Cointegration (Leash)", Script: cointegrationScript, Func: cointegration},
	PresetHawkes:               {Name: "Hawkes Alpha (Viral)", Script: hawkesScript, Func: hawkesAlpha},
	PresetHurst:                {Name: "Hurst Exponent (H)", Script: hurstScript, Func: hurst},
	PresetEntropy:              {Name: "Regime Entropy", Script: entropyScript, Func: regimeEntropy},
	PresetVelocityAcceleration: {Name: "Velocity Acceleration", Script: velocityAccelerationScript, Func: velocityAcceleration},
	PresetPearson:              {Name: "Pearson Correlation (Lagged)", Script: pearsonScript, Func: laggedPearson},
	PresetBenford:              {Name: "Benford Forensic Filter", Script: benfordScript, Func: benfordFilter},
	PresetResidual:             {Name: "Residual Anomaly Map", Script: residualScript, Func: residualAnomaly},
	PresetLorentzian:           {Name: "Lorentzian KNN Signal", Script: lorentzianScript, Func: lorentzianSignal},
}

var byName = make(map[string]PresetID, presetCount)

func init() {
	for id := range catalog {
		catalog[id].ID = PresetID(id)
		catalog[id].Kind = model.ParseKind(catalog[id].Script)
		byName[catalog[id].Name] = PresetID(id)
	}
}

// Catalog returns every preset in display order.
func Catalog() []Preset {
	out := make([]Preset, len(catalog))
	copy(out, catalog[:])
	return out
}

// Get returns the preset for id.
func Get(id PresetID) Preset {
	return catalog[id]
}

// Lookup finds a preset by its catalog name.
func Lookup(name string) (Preset, bool) {
	id, ok := byName[name]
	if !ok {
		return Preset{}, false
	}
	return catalog[id], true
}

// Scripts is the enumerable name -> script source registry.
func Scripts() map[string]string {
	out := make(map[string]string, len(catalog))
	for i := range catalog {
		out[catalog[i].Name] = catalog[i].Script
	}
	return out
}

// presetForScript finds the preset whose published script is exactly src.
func presetForScript(src string) (Preset, bool) {
	for i := range catalog {
		if catalog[i].Script == src {
			return catalog[i], true
		}
	}
	return Preset{}, false
}

// lorentzianSignal runs the classifier with the warm-up shrunk to fit
// short inputs: maxBarsBack = min(50, N-5).
func lorentzianSignal(bars []model.Bar) []model.SeriesPoint {
	if len(bars) < 5 {
		return emptySeries()
	}
	s := lorentzian.DefaultSettings()
	s.MaxBarsBack = min(s.MaxBarsBack, len(bars)-5)
	preds, err := lorentzian.Classify(bars, s)
	if err != nil {
		return emptySeries()
	}
	return lorentzian.Points(preds)
}
