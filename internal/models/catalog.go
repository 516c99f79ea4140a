package models

// TypeGeneric is the wildcard payload type tag; it matches anything.
const TypeGeneric = "generic"

// FlowStep names one operator in a flow's ordered step sequence
type FlowStep struct {
	OperatorName string `yaml:"operator" json:"operator_name"`
}

// Flow is an immutable pricing-and-execution template for a problem type
type Flow struct {
	Name               string     `yaml:"name" json:"name"`
	ProblemType        string     `yaml:"problem_type" json:"problem_type"`
	BasePrice          float64    `yaml:"base_price" json:"base_price"`
	PricePerComplexity float64    `yaml:"price_per_complexity" json:"price_per_complexity"`
	Steps              []FlowStep `yaml:"steps" json:"steps"`
}

// Operator is a named capability descriptor. The transformation itself is
// delegated to the step runner; operators with a Builtin tag run in-process.
type Operator struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	InputType    string `yaml:"input_type" json:"input_type"`
	OutputType   string `yaml:"output_type" json:"output_type"`
	Builtin      string `yaml:"builtin" json:"builtin,omitempty"`
	SuccessCount int64  `yaml:"-" json:"success_count"`
	FailCount    int64  `yaml:"-" json:"fail_count"`
}
