package rules

// RuleSetDefinition - авторский набор правил одного словаря, как он лежит в файле
type RuleSetDefinition struct {
	Vocabulary     string           `yaml:"vocabulary" json:"vocabulary"`
	DualGrid       bool             `yaml:"dual_grid" json:"dual_grid"`
	UniformSprites bool             `yaml:"uniform_sprites" json:"uniform_sprites"` // одинаковые пивот, размер и текстура у всех спрайтов
	Rules          []RuleDefinition `yaml:"rules" json:"rules"`
}

// RuleDefinition - авторское правило: квадратная матрица, флаги симметрии и таблицы результатов
type RuleDefinition struct {
	Name    string      `yaml:"name" json:"name"`
	Enabled *bool       `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil = включено
	Matrix  []CellValue `yaml:"matrix" json:"matrix"`
	MirrorX bool        `yaml:"mirror_x" json:"mirror_x"`
	MirrorY bool        `yaml:"mirror_y" json:"mirror_y"`
	Rotate  bool        `yaml:"rotate" json:"rotate"`
	Chance  *float64    `yaml:"chance,omitempty" json:"chance,omitempty"` // nil = 100

	ResultFlipX  bool `yaml:"result_flip_x" json:"result_flip_x"`
	ResultFlipY  bool `yaml:"result_flip_y" json:"result_flip_y"`
	ResultRotate bool `yaml:"result_rotate" json:"result_rotate"`

	Sprites  []SpriteResult `yaml:"sprites" json:"sprites"`
	Entities []EntityResult `yaml:"entities" json:"entities"`
}

// SpriteResult - взвешенный спрайт
type SpriteResult struct {
	Weight           int `yaml:"weight" json:"weight"`
	SpriteDescriptor `yaml:",inline" json:",inline"`
}

// EntityResult - взвешенный префаб
type EntityResult struct {
	Weight int       `yaml:"weight" json:"weight"`
	Prefab EntityRef `yaml:"prefab" json:"prefab"`
}

// IsEnabled возвращает признак включённости (по умолчанию true)
func (d RuleDefinition) IsEnabled() bool {
	if d.Enabled == nil {
		return true
	}
	return *d.Enabled
}

// ChancePercent возвращает шанс срабатывания (по умолчанию 100)
func (d RuleDefinition) ChancePercent() float64 {
	if d.Chance == nil {
		return 100
	}
	return *d.Chance
}

func (d RuleDefinition) symmetry() Symmetry {
	var s Symmetry
	if d.MirrorX {
		s |= SymmetryMirrorX
	}
	if d.MirrorY {
		s |= SymmetryMirrorY
	}
	if d.Rotate {
		s |= SymmetryRotate
	}
	return s
}

func (d RuleDefinition) resultSymmetry() Symmetry {
	var s Symmetry
	if d.ResultFlipX {
		s |= SymmetryMirrorX
	}
	if d.ResultFlipY {
		s |= SymmetryMirrorY
	}
	if d.ResultRotate {
		s |= SymmetryRotate
	}
	return s
}
