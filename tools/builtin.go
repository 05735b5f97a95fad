// ABOUTME: Builtin Buddy tools: clock, mock weather, user info and preferences, arithmetic, and help.
// ABOUTME: Handlers are deterministic apart from the injectable clock.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimeLayout is the format returned by get_current_time.
const TimeLayout = "2006-01-02 15:04:05"

// Builtins holds the state shared by the builtin tool handlers.
type Builtins struct {
	now func() time.Time

	mu       sync.RWMutex
	userData map[string]string
}

// NewBuiltins creates the builtin tool set. A nil clock uses time.Now.
func NewBuiltins(now func() time.Time) *Builtins {
	if now == nil {
		now = time.Now
	}
	return &Builtins{
		now: now,
		userData: map[string]string{
			"user_name":        "User",
			"user_preferences": "Friendly and helpful responses",
		},
	}
}

// Register adds every builtin tool to r.
func (b *Builtins) Register(r *Registry) error {
	for _, d := range b.descriptors(r) {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry populated with the builtin tools.
func NewDefaultRegistry(now func() time.Time) *Registry {
	r := NewRegistry()
	r.MustRegister(NewBuiltins(now).descriptors(r)...)
	return r
}

func (b *Builtins) descriptors(r *Registry) []Descriptor {
	return []Descriptor{
		{
			Name:        "get_current_time",
			Description: "Gets the current date and time",
			Handler:     b.currentTime,
		},
		{
			Name:        "get_weather",
			Description: "Gets weather information for a location",
			Params: []Param{
				{Name: "location", Type: TypeString, Description: "The location to get weather for"},
			},
			Handler: b.weather,
		},
		{
			Name:        "get_user_info",
			Description: "Gets information about the current user",
			Params: []Param{
				{Name: "info_type", Type: TypeString, Description: "The type of user information to retrieve (name, preferences, etc.)"},
			},
			Handler: b.userInfo,
		},
		{
			Name:        "set_user_preference",
			Description: "Sets a user preference",
			Params: []Param{
				{Name: "preference_key", Type: TypeString, Description: "The preference key to set"},
				{Name: "preference_value", Type: TypeString, Description: "The preference value to set"},
			},
			Handler: b.setPreference,
		},
		{
			Name:        "calculate",
			Description: "Performs simple mathematical calculations",
			Params: []Param{
				{Name: "expression", Type: TypeString, Description: "The mathematical expression to evaluate (e.g., '2 + 2', '10 * 5')"},
			},
			Handler: calculate,
		},
		{
			Name:        "help",
			Description: "Provides help information about available functions",
			Handler: func(ctx context.Context, args Args) (string, error) {
				return helpText(r), nil
			},
		},
	}
}

func (b *Builtins) currentTime(ctx context.Context, args Args) (string, error) {
	return b.now().Format(TimeLayout), nil
}

func (b *Builtins) weather(ctx context.Context, args Args) (string, error) {
	location := strings.TrimSpace(args.String("location"))
	if location == "" {
		return "", errors.New("location must not be empty")
	}
	return fmt.Sprintf("The weather in %s is currently sunny with a temperature of 22°C (72°F). "+
		"It's a beautiful day with light winds and clear skies.", location), nil
}

func (b *Builtins) userInfo(ctx context.Context, args Args) (string, error) {
	infoType := args.String("info_type")
	b.mu.RLock()
	v, ok := b.userData[strings.ToLower(infoType)]
	b.mu.RUnlock()
	if !ok {
		return "Information not available for: " + infoType, nil
	}
	return v, nil
}

func (b *Builtins) setPreference(ctx context.Context, args Args) (string, error) {
	key := args.String("preference_key")
	value := args.String("preference_value")
	if strings.TrimSpace(key) == "" {
		return "", errors.New("preference_key must not be empty")
	}
	b.mu.Lock()
	b.userData[strings.ToLower(key)] = value
	b.mu.Unlock()
	return fmt.Sprintf("User preference '%s' has been set to '%s'", key, value), nil
}

// calculate evaluates "a op b" with one of + - * /.
func calculate(ctx context.Context, args Args) (string, error) {
	parts := strings.Fields(args.String("expression"))
	if len(parts) != 3 {
		return "", errors.New("Invalid expression format. Please use format like '2 + 2' or '10 * 5'")
	}
	a, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", parts[0])
	}
	b, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", parts[2])
	}

	var result float64
	switch op := parts[1]; op {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "*":
		result = a * b
	case "/":
		if b == 0 {
			return "", errors.New("division by zero")
		}
		result = a / b
	default:
		return "", fmt.Errorf("Unsupported operator: %s", op)
	}
	return fmt.Sprintf("%.2f %s %.2f = %.2f", a, parts[1], b, result), nil
}

func helpText(r *Registry) string {
	var sb strings.Builder
	sb.WriteString("Available Buddy AI functions:\n\n")
	for _, name := range r.Names() {
		d, ok := r.Descriptor(name)
		if !ok {
			continue
		}
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			params = append(params, p.Name)
		}
		sig := d.Name
		if len(params) > 0 {
			sig += "(" + strings.Join(params, ", ") + ")"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", sig, d.Description)
	}
	sb.WriteString("\nI can combine these functions to help you with various tasks!")
	return sb.String()
}
