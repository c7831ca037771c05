package application

import (
	"testing"

	"mall/internal/contracts"
	"mall/internal/order/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *contracts.OrderCreationRequested {
	return &contracts.OrderCreationRequested{
		SagaID:          "s1",
		OrderNo:         "ORD1",
		UserID:          "u1",
		ShippingAddress: "somewhere",
		Items: []contracts.OrderLine{
			{ProductID: "p1", UnitPrice: 10, Qty: 2},
		},
	}
}

func TestStructuralValidation(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)

	require.NoError(t, v.Validate(validRequest()))

	noUser := validRequest()
	noUser.UserID = ""
	assert.ErrorIs(t, v.Validate(noUser), domain.ErrValidation)

	noItems := validRequest()
	noItems.Items = nil
	assert.ErrorIs(t, v.Validate(noItems), domain.ErrValidation)

	badQty := validRequest()
	badQty.Items[0].Qty = 0
	assert.ErrorIs(t, v.Validate(badQty), domain.ErrValidation)

	negPrice := validRequest()
	negPrice.Items[0].UnitPrice = -1
	assert.ErrorIs(t, v.Validate(negPrice), domain.ErrValidation)
}

func TestCelRules(t *testing.T) {
	v, err := NewValidator([]string{
		"totalAmount <= 10000.0",
		"maxLineQty <= 10",
		"shippingAddress != ''",
	})
	require.NoError(t, err)

	require.NoError(t, v.Validate(validRequest()))

	tooExpensive := validRequest()
	tooExpensive.Items[0].UnitPrice = 20000
	err = v.Validate(tooExpensive)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "totalAmount")

	tooMany := validRequest()
	tooMany.Items[0].Qty = 11
	assert.ErrorIs(t, v.Validate(tooMany), domain.ErrValidation)

	noAddress := validRequest()
	noAddress.ShippingAddress = ""
	assert.ErrorIs(t, v.Validate(noAddress), domain.ErrValidation)
}

func TestInvalidRuleFailsFast(t *testing.T) {
	_, err := NewValidator([]string{"totalAmount <"})
	assert.Error(t, err)

	_, err = NewValidator([]string{"unknownVariable > 1"})
	assert.Error(t, err)
}
