package main

import (
	"testing"

	"github.com/atomix/catalog/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestJoinMemberTypeDefaultsToReserve(t *testing.T) {
	assert.Equal(t, types.MemberReserve, joinMemberType(false))
}

func TestJoinMemberTypeStatefulJoinsAsPassive(t *testing.T) {
	assert.Equal(t, types.MemberPassive, joinMemberType(true))
}
