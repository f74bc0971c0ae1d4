package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/smarterescrow/internal/chain"
)

func onlyBuyer(env chain.Env, acc *Account) error {
	if env.Caller() != acc.Buyer {
		return chain.Revert(ErrUnauthorized, ReasonOnlyBuyer)
	}
	return nil
}

func onlySeller(env chain.Env, acc *Account) error {
	if env.Caller() != acc.Seller {
		return chain.Revert(ErrUnauthorized, ReasonOnlySeller)
	}
	return nil
}

func validParties(buyer, seller common.Address) error {
	if buyer == (common.Address{}) || seller == (common.Address{}) || buyer == seller {
		return chain.Revert(ErrInvalidParty, ReasonInvalidParty)
	}
	return nil
}

// deposit accepts the attached value exactly once. The host has already
// credited the value to Self by the time this runs.
func deposit(env chain.Env) error {
	acc, err := loadAccount(env)
	if err != nil {
		return err
	}
	if err := onlyBuyer(env, acc); err != nil {
		return err
	}
	if acc.Paid {
		return chain.Revert(ErrAlreadyPaid, ReasonAlreadyPaid)
	}
	amount := env.Value()
	if amount.IsZero() {
		return chain.Revert(ErrInvalidAmount, ReasonZeroDeposit)
	}

	acc.Paid = true
	acc.Stage = StageFunded
	if err := storeState(env, acc); err != nil {
		return err
	}
	return env.Emit("Deposited", acc.Buyer, amount.ToBig())
}

// confirmDelivery releases the whole balance to the seller.
func confirmDelivery(env chain.Env) error {
	acc, err := loadAccount(env)
	if err != nil {
		return err
	}
	if err := onlyBuyer(env, acc); err != nil {
		return err
	}
	bal, err := env.Balance(env.Self())
	if err != nil {
		return err
	}
	if bal.IsZero() {
		return chain.Revert(ErrInsufficientBalance, ReasonNoFunds)
	}

	if err := env.Transfer(acc.Seller, bal); err != nil {
		return err
	}
	acc.Stage = StageReleased
	if err := storeState(env, acc); err != nil {
		return err
	}
	return env.Emit("DeliveryConfirmed", acc.Seller, bal.ToBig())
}

// ejectFunds returns the whole balance to the buyer.
func ejectFunds(env chain.Env) error {
	acc, err := loadAccount(env)
	if err != nil {
		return err
	}
	if err := onlySeller(env, acc); err != nil {
		return err
	}
	bal, err := env.Balance(env.Self())
	if err != nil {
		return err
	}
	if bal.IsZero() {
		return chain.Revert(ErrInsufficientBalance, ReasonNoFunds)
	}

	if err := env.Transfer(acc.Buyer, bal); err != nil {
		return err
	}
	acc.Stage = StageEjected
	if err := storeState(env, acc); err != nil {
		return err
	}
	return env.Emit("FundsEjected", acc.Buyer, bal.ToBig())
}

// initialize plays the constructor's role for proxied logic.
func initialize(env chain.Env, buyer, seller common.Address) error {
	done, err := env.SLoad(slotInitialized)
	if err != nil {
		return err
	}
	if done != (common.Hash{}) {
		return chain.Revert(ErrAlreadyInitialized, ReasonAlreadyInitialized)
	}
	if err := validParties(buyer, seller); err != nil {
		return err
	}
	if err := storeParties(env, buyer, seller); err != nil {
		return err
	}
	return env.SStore(slotInitialized, wordTrue)
}
