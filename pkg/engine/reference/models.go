package reference

import "github.com/dd0wney/cluso-gridsim/pkg/engine"

// Catalog returns a catalog with the built-in network templates
func Catalog() *engine.MemoryCatalog {
	return engine.NewMemoryCatalog(K2A(), SM2())
}

// K2A is the Kundur two-area system with classical machines. Shunt
// compensation at B7 and B9 is folded into the load Q.
func K2A() *engine.ModelData {
	lineHeader := []string{"name", "from_bus", "to_bus", "length", "R", "X", "B"}
	const r, x, b = 1e-4, 1e-3, 1.75e-3

	return &engine.ModelData{
		Name:     "k2a",
		BaseMVA:  100,
		Freq:     60,
		SlackBus: "B3",
		Sections: map[string]engine.Section{
			engine.SectionBuses: {
				engine.FlatGroup: {
					Header: []string{"name", "V_n"},
					Rows: [][]any{
						{"B1", 20.0}, {"B2", 20.0}, {"B3", 20.0}, {"B4", 20.0},
						{"B5", 230.0}, {"B6", 230.0}, {"B7", 230.0}, {"B8", 230.0},
						{"B9", 230.0}, {"B10", 230.0}, {"B11", 230.0},
					},
				},
			},
			engine.SectionLines: {
				engine.FlatGroup: {
					Header: lineHeader,
					Rows: [][]any{
						{"L5-6", "B5", "B6", 25.0, r, x, b},
						{"L6-7", "B6", "B7", 10.0, r, x, b},
						{"L7-8-1", "B7", "B8", 110.0, r, x, b},
						{"L7-8-2", "B7", "B8", 110.0, r, x, b},
						{"L8-9-1", "B8", "B9", 110.0, r, x, b},
						{"L8-9-2", "B8", "B9", 110.0, r, x, b},
						{"L9-10", "B9", "B10", 10.0, r, x, b},
						{"L10-11", "B10", "B11", 25.0, r, x, b},
					},
				},
			},
			engine.SectionTransformers: {
				engine.FlatGroup: {
					Header: []string{"name", "from_bus", "to_bus", "S_n", "R", "X"},
					Rows: [][]any{
						{"T1", "B1", "B5", 900.0, 0.0, 0.15},
						{"T2", "B2", "B6", 900.0, 0.0, 0.15},
						{"T3", "B3", "B11", 900.0, 0.0, 0.15},
						{"T4", "B4", "B10", 900.0, 0.0, 0.15},
					},
				},
			},
			engine.SectionLoads: {
				engine.FlatGroup: {
					Header: []string{"name", "bus", "P", "Q"},
					Rows: [][]any{
						{"L1", "B7", 967.0, -100.0},
						{"L2", "B9", 1767.0, -250.0},
					},
				},
			},
			engine.SectionGenerators: {
				engine.GroupGenerator: {
					Header: []string{"name", "bus", "S_n", "V", "P", "H", "D", "X_d_t"},
					Rows: [][]any{
						{"G1", "B1", 900.0, 1.03, 700.0, 6.5, 2.0, 0.3},
						{"G2", "B2", 900.0, 1.01, 700.0, 6.5, 2.0, 0.3},
						{"G3", "B3", 900.0, 1.03, 719.0, 6.175, 2.0, 0.3},
						{"G4", "B4", 900.0, 1.01, 700.0, 6.175, 2.0, 0.3},
					},
				},
			},
		},
	}
}

// SM2 is two machines feeding one load through two lines
func SM2() *engine.ModelData {
	return &engine.ModelData{
		Name:     "sm2",
		BaseMVA:  100,
		Freq:     50,
		SlackBus: "B1",
		Sections: map[string]engine.Section{
			engine.SectionBuses: {
				engine.FlatGroup: {
					Header: []string{"name", "V_n"},
					Rows:   [][]any{{"B1", 20.0}, {"B2", 20.0}, {"B3", 20.0}},
				},
			},
			engine.SectionLines: {
				engine.FlatGroup: {
					Header: []string{"name", "from_bus", "to_bus", "R", "X", "B"},
					Rows: [][]any{
						{"L1", "B1", "B2", 0.0, 0.1, 0.0},
						{"L2", "B2", "B3", 0.0, 0.1, 0.0},
						{"L3", "B1", "B3", 0.0, 0.2, 0.0},
					},
				},
			},
			engine.SectionTransformers: {
				engine.FlatGroup: {
					Header: []string{"name", "from_bus", "to_bus", "S_n", "R", "X"},
					Rows:   [][]any{{"T1", "B3", "B2", 100.0, 0.0, 0.05}},
				},
			},
			engine.SectionLoads: {
				engine.FlatGroup: {
					Header: []string{"name", "bus", "P", "Q"},
					Rows:   [][]any{{"LD1", "B2", 100.0, 20.0}},
				},
			},
			engine.SectionGenerators: {
				engine.GroupGenerator: {
					Header: []string{"name", "bus", "S_n", "V", "P", "H", "D", "X_d_t"},
					Rows: [][]any{
						{"G1", "B1", 100.0, 1.05, 50.0, 5.0, 1.0, 0.2},
						{"G2", "B3", 100.0, 1.05, 50.0, 4.0, 1.0, 0.2},
					},
				},
			},
		},
	}
}
