package categories

import "burnrate/internal/core"

const Uncategorized = "uncategorized"

// Built-in categories keyed by their stable key.
var builtin = []core.CustomCategory{
	{Key: "groceries", Name: "Groceries", Icon: "🛒", Color: "#4caf50"},
	{Key: "restaurants", Name: "Cafes & restaurants", Icon: "🍽", Color: "#ff9800"},
	{Key: "transport", Name: "Transport", Icon: "🚌", Color: "#2196f3"},
	{Key: "fuel", Name: "Fuel", Icon: "⛽", Color: "#795548"},
	{Key: "health", Name: "Health", Icon: "💊", Color: "#e91e63"},
	{Key: "shopping", Name: "Shopping", Icon: "🛍", Color: "#9c27b0"},
	{Key: "entertainment", Name: "Entertainment", Icon: "🎬", Color: "#673ab7"},
	{Key: "utilities", Name: "Utilities & telecom", Icon: "💡", Color: "#607d8b"},
	{Key: "travel", Name: "Travel", Icon: "✈", Color: "#00bcd4"},
	{Key: "education", Name: "Education", Icon: "📚", Color: "#3f51b5"},
	{Key: "subscriptions", Name: "Subscriptions", Icon: "🔁", Color: "#009688"},
	{Key: "cash", Name: "Cash", Icon: "💵", Color: "#8bc34a"},
	{Key: "transfers", Name: "Transfers", Icon: "🔄", Color: "#9e9e9e"},
	{Key: "charity", Name: "Charity", Icon: "🤝", Color: "#ffc107"},
	{Key: Uncategorized, Name: "Other", Icon: "❔", Color: "#bdbdbd"},
}

var builtinByKey = func() map[string]core.CustomCategory {
	m := make(map[string]core.CustomCategory, len(builtin))
	for _, c := range builtin {
		m[c.Key] = c
	}
	return m
}()

// Builtin returns the built-in categories in display order.
func Builtin() []core.CustomCategory {
	out := make([]core.CustomCategory, len(builtin))
	copy(out, builtin)
	return out
}

// IsBuiltin reports whether key names a built-in category.
func IsBuiltin(key string) bool {
	_, ok := builtinByKey[key]
	return ok
}

type mccRange struct {
	from, to int
	key      string
}

// ISO 18245 merchant category code ranges mapped to built-in keys.
// Single codes come before the broad ranges that contain them.
var mccTable = []mccRange{
	{5411, 5411, "groceries"},
	{5422, 5422, "groceries"},
	{5441, 5441, "groceries"},
	{5451, 5451, "groceries"},
	{5462, 5462, "groceries"},
	{5499, 5499, "groceries"},
	{5812, 5814, "restaurants"},
	{4111, 4131, "transport"},
	{4784, 4784, "transport"},
	{7523, 7523, "transport"},
	{5541, 5542, "fuel"},
	{5172, 5172, "fuel"},
	{5912, 5912, "health"},
	{8011, 8099, "health"},
	{4812, 4816, "utilities"},
	{4899, 4900, "utilities"},
	{3000, 3999, "travel"},
	{4511, 4511, "travel"},
	{4722, 4722, "travel"},
	{7011, 7011, "travel"},
	{8211, 8299, "education"},
	{5815, 5818, "subscriptions"},
	{7832, 7841, "entertainment"},
	{7911, 7999, "entertainment"},
	{5994, 5994, "entertainment"},
	{6010, 6011, "cash"},
	{4829, 4829, "transfers"},
	{6012, 6012, "transfers"},
	{6536, 6540, "transfers"},
	{8398, 8398, "charity"},
	{5200, 5399, "shopping"},
	{5600, 5699, "shopping"},
	{5900, 5999, "shopping"},
}

// ByMCC returns the built-in category key for a merchant category code.
func ByMCC(mcc int) (string, bool) {
	for _, r := range mccTable {
		if mcc >= r.from && mcc <= r.to {
			return r.key, true
		}
	}
	return "", false
}
