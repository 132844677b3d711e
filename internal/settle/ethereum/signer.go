package ethereum

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "InvestPilot/internal/errors"
)

// KeySigner 持有一把内存中的私钥并用它签署结算交易。
// 仅用于单实例部署；托管或远程签名可以另行实现 Signer。
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner 从十六进制私钥构造签名器。
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "未配置结算私钥")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "解析结算私钥失败")
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回签名地址。
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx 使用链 ID 对应的最新签名规则签署交易。
func (s *KeySigner) SignTx(_ context.Context, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSettlementFailed, err, "签署结算交易失败")
	}
	return signed, nil
}

var _ Signer = (*KeySigner)(nil)
