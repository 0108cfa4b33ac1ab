package threshold

import (
	"testing"

	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestParse_JSONPathDottedLookup(t *testing.T) {
	result := map[string]interface{}{
		"a": map[string]interface{}{"b": "found"},
	}
	parsed := Parse(map[string]string{"v": "$.a.b"}, result)
	require.Equal(t, "found", parsed["v"])
}

func TestParse_JSONPathMissingKeyYieldsNil(t *testing.T) {
	result := map[string]interface{}{"a": map[string]interface{}{}}
	parsed := Parse(map[string]string{"v": "$.a.missing"}, result)
	require.Nil(t, parsed["v"])
}

func TestParse_RegexExtractsFirstGroup(t *testing.T) {
	result := map[string]interface{}{"stdout": "4 packets transmitted, 4 received, 25% packet loss"}
	parsed := Parse(map[string]string{"loss": `regex("(\d+)% packet loss", 1)`}, result)
	require.Equal(t, "25", parsed["loss"])
}

func TestDecodeCondition_RejectsNonJSON(t *testing.T) {
	_, err := DecodeCondition("loss > 20")
	require.ErrorIs(t, err, ErrLegacyExpression)
}

// An empty condition is treated as green before ever reaching
// DecodeCondition — see internal/monitor's empty-ThresholdCondition check.
// DecodeCondition itself still rejects "" as non-JSON input, since it has
// no special-case knowledge of the monitor's boundary behavior.
func TestDecodeCondition_EmptyStringIsNotJSON(t *testing.T) {
	_, err := DecodeCondition("")
	require.ErrorIs(t, err, ErrLegacyExpression)
}

func TestEvaluate_VariableModeRedBeatsAmber(t *testing.T) {
	spec, err := DecodeCondition(`{
		"mode":"variable",
		"parserRules":{"loss":"regex(\"(\\d+)% packet loss\",1)"},
		"rules":[
			{"var":"loss","op":">","value":20,"level":"red"},
			{"var":"loss","op":">","value":0,"level":"amber"}
		]
	}`)
	require.NoError(t, err)

	result := map[string]interface{}{"stdout": "4 packets transmitted, 4 received, 25% packet loss"}
	status, err := Evaluate(spec, result)
	require.NoError(t, err)
	require.Equal(t, models.StatusRed, status)
}

func TestEvaluate_VariableModeMissingValueSkipsRule(t *testing.T) {
	spec, err := DecodeCondition(`{
		"mode":"variable",
		"parserRules":{"loss":"$.missing"},
		"rules":[{"var":"loss","op":">","value":20,"level":"red"}]
	}`)
	require.NoError(t, err)

	status, err := Evaluate(spec, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, models.StatusGreen, status)
}

func TestEvaluate_ContainsModeNotContainsWins(t *testing.T) {
	spec, err := DecodeCondition(`{"mode":"contains","contains":["failed"],"not_contains":["ok"],"match_level":"red"}`)
	require.NoError(t, err)

	status, err := Evaluate(spec, map[string]interface{}{"stdout": "build failed but marked ok"})
	require.NoError(t, err)
	require.Equal(t, models.StatusGreen, status)
}

func TestEvaluate_ContainsModeFiresMatchLevel(t *testing.T) {
	spec, err := DecodeCondition(`{"mode":"contains","contains":["intrusion detected"],"match_level":"red"}`)
	require.NoError(t, err)

	status, err := Evaluate(spec, map[string]interface{}{"stdout": "ALERT: Intrusion Detected on host"})
	require.NoError(t, err)
	require.Equal(t, models.StatusRed, status)
}

func TestEvaluate_StructuredModeAlwaysAmber(t *testing.T) {
	spec, err := DecodeCondition(`{"mode":"structured","criteria":"looks suspicious"}`)
	require.NoError(t, err)

	status, err := Evaluate(spec, map[string]interface{}{"stdout": "anything"})
	require.NoError(t, err)
	require.Equal(t, models.StatusAmber, status)
}

func TestEvaluate_MonotoneInSeverity(t *testing.T) {
	spec, err := DecodeCondition(`{
		"mode":"variable",
		"parserRules":{"loss":"regex(\"(\\d+)% packet loss\",1)"},
		"rules":[{"var":"loss","op":">","value":20,"level":"red"}]
	}`)
	require.NoError(t, err)

	x := map[string]interface{}{"stdout": "25% packet loss"}
	xPrime := map[string]interface{}{"stdout": "90% packet loss"}

	statusX, err := Evaluate(spec, x)
	require.NoError(t, err)
	statusXPrime, err := Evaluate(spec, xPrime)
	require.NoError(t, err)

	require.Equal(t, models.StatusRed, statusX)
	require.Equal(t, models.StatusRed, statusXPrime)
}
