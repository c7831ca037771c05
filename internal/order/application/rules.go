package application

import (
	"mall/internal/contracts"
	"mall/internal/order/domain"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/pkg/errors"
)

// Validator 下单前的校验器。结构性检查写死，业务规则用 CEL
// 表达式从配置下发，全部为 true 才放行。被拒绝的请求不产生
// 任何副作用。
type Validator struct {
	programs []ruleProgram
}

type ruleProgram struct {
	expr    string
	program cel.Program
}

// NewValidator 编译配置里的规则表达式。可用变量：
// userId、shippingAddress、totalAmount、itemCount、maxLineQty。
func NewValidator(rules []string) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("userId", cel.StringType),
		cel.Variable("shippingAddress", cel.StringType),
		cel.Variable("totalAmount", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
		cel.Variable("maxLineQty", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	v := &Validator{}
	for _, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			return nil, errors.Wrapf(issues.Err(), "compile rule %q", rule)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "build program for rule %q", rule)
		}
		v.programs = append(v.programs, ruleProgram{expr: rule, program: prg})
	}
	return v, nil
}

// Validate 检查下单请求，失败返回 ErrValidation 并附带原因。
func (v *Validator) Validate(req *contracts.OrderCreationRequested) error {
	if req.UserID == "" {
		return errors.Wrap(domain.ErrValidation, "userId is required")
	}
	if len(req.Items) == 0 {
		return errors.Wrap(domain.ErrValidation, "order has no items")
	}
	var total float64
	var maxQty int64
	for _, line := range req.Items {
		if line.ProductID == "" {
			return errors.Wrap(domain.ErrValidation, "item without productId")
		}
		if line.Qty <= 0 {
			return errors.Wrapf(domain.ErrValidation, "invalid qty %d for product %s", line.Qty, line.ProductID)
		}
		if line.UnitPrice < 0 {
			return errors.Wrapf(domain.ErrValidation, "negative price for product %s", line.ProductID)
		}
		total += line.UnitPrice * float64(line.Qty)
		if line.Qty > maxQty {
			maxQty = line.Qty
		}
	}

	input := map[string]interface{}{
		"userId":          req.UserID,
		"shippingAddress": req.ShippingAddress,
		"totalAmount":     total,
		"itemCount":       int64(len(req.Items)),
		"maxLineQty":      maxQty,
	}
	for _, rule := range v.programs {
		out, _, err := rule.program.Eval(input)
		if err != nil {
			return errors.Wrapf(domain.ErrValidation, "rule %q evaluation: %v", rule.expr, err)
		}
		if out != types.True {
			return errors.Wrapf(domain.ErrValidation, "rule %q rejected the order", rule.expr)
		}
	}
	return nil
}
