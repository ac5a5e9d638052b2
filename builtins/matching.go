package builtins

import (
	"strings"

	"canopy/db"
	"canopy/types"
)

// matchStrings runs the tiered matcher (exact, then prefix, then optional
// fuzzy) over candidates and returns the indices that matched at the best
// tier reached. Ties within a tier are all returned, same as the teacher's
// server/matcher.go inventory/room search.
func matchStrings(token string, candidates []string, fuzzyThreshold float64) []int {
	needle := strings.ToLower(strings.TrimSpace(token))
	if needle == "" {
		return nil
	}

	var exact, prefix []int
	for i, c := range candidates {
		cl := strings.ToLower(c)
		if cl == needle {
			exact = append(exact, i)
		} else if strings.HasPrefix(cl, needle) {
			prefix = append(prefix, i)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(prefix) > 0 {
		return prefix
	}
	if fuzzyThreshold <= 0 {
		return nil
	}

	var fuzzy []int
	best := fuzzyThreshold
	for i, c := range candidates {
		score := stringSimilarity(needle, strings.ToLower(c))
		if score >= best {
			if score > best {
				fuzzy = fuzzy[:0]
				best = score
			}
			fuzzy = append(fuzzy, i)
		}
	}
	return fuzzy
}

// stringSimilarity scores two strings in [0,1] by normalized Levenshtein
// distance: 1.0 is identical, 0.0 shares nothing of the same length.
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	dist := prev[lb]
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(dist)/float64(maxLen)
}

// parseFuzzyThreshold mirrors the original's backward-compatible argument:
// a float/int is used as-is, a truth value maps to 0.5/0.0.
func parseFuzzyThreshold(v types.Value) float64 {
	switch fv := v.(type) {
	case types.FloatValue:
		return fv.Val
	case types.IntValue:
		return float64(fv.Val)
	default:
		if v.Truthy() {
			return 0.5
		}
		return 0
	}
}

// complexMatchArgs pulls token/targets/keys/fuzzy out of the shared
// complex_match / complex_matches argument grammar:
//
//	(token, targets)
//	(token, targets, keys)
//	(token, targets, fuzzy)
//	(token, targets, keys, fuzzy)
func complexMatchArgs(args []types.Value) (token string, targets types.ListValue, keys types.ListValue, useKeys bool, fuzzy float64, errCode types.ErrorCode, ok bool) {
	if len(args) < 2 || len(args) > 4 {
		return "", types.ListValue{}, types.ListValue{}, false, 0, types.E_ARGS, false
	}
	tok, isStr := args[0].(types.StrValue)
	if !isStr {
		return "", types.ListValue{}, types.ListValue{}, false, 0, types.E_TYPE, false
	}
	tgt, isList := args[1].(types.ListValue)
	if !isList {
		return "", types.ListValue{}, types.ListValue{}, false, 0, types.E_TYPE, false
	}

	if len(args) >= 3 {
		if k, isList := args[2].(types.ListValue); isList {
			useKeys = true
			keys = k
		}
	}
	if len(args) >= 4 {
		fuzzy = parseFuzzyThreshold(args[3])
	} else if len(args) == 3 && !useKeys {
		fuzzy = parseFuzzyThreshold(args[2])
	}

	return tok.Value(), tgt, keys, useKeys, fuzzy, types.E_NONE, true
}

// candidateLabels resolves each target to the string the matcher compares
// against the token: the string itself, or (for a list of objects with no
// explicit keys) the object's name via world.Tx/db.Store.
func candidateLabels(ctx *types.TaskContext, store *db.Store, targets types.ListValue) ([]string, bool) {
	labels := make([]string, targets.Len())
	hasObjects := false
	for i := 1; i <= targets.Len(); i++ {
		v := targets.Get(i)
		if objv, isObj := v.(types.ObjValue); isObj {
			hasObjects = true
			labels[i-1] = objectName(ctx, store, objv.ID())
			continue
		}
		if sv, isStr := v.(types.StrValue); isStr {
			labels[i-1] = sv.Value()
		}
	}
	return labels, hasObjects
}

func objectName(ctx *types.TaskContext, store *db.Store, id types.ObjID) string {
	if wtx, ok := worldTx(ctx); ok {
		return wtx.Name(id)
	}
	if obj := store.Get(id); obj != nil {
		return obj.Name
	}
	return ""
}

// builtinComplexMatch implements complex_match(token, targets [, keys]
// [, fuzzy_threshold]) -> best match, or FAILED_MATCH on a total miss. On a
// tie within the best tier the first tied candidate is returned, matching
// the original's "return the first of the Multiple tier" behavior.
func builtinComplexMatch(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	token, targets, keys, useKeys, fuzzy, errCode, ok := complexMatchArgs(args)
	if !ok {
		return types.Err(errCode)
	}

	if useKeys {
		if targets.Len() != keys.Len() {
			return types.Err(types.E_INVARG)
		}
		labels := make([]string, keys.Len())
		for i := 1; i <= keys.Len(); i++ {
			if sv, isStr := keys.Get(i).(types.StrValue); isStr {
				labels[i-1] = sv.Value()
			}
		}
		idxs := matchStrings(token, labels, fuzzy)
		if len(idxs) == 0 {
			return types.Ok(types.NewObj(types.ObjFailedMatch))
		}
		return types.Ok(targets.Get(idxs[0] + 1))
	}

	labels, hasObjects := candidateLabels(ctx, store, targets)
	idxs := matchStrings(token, labels, fuzzy)
	if len(idxs) == 0 {
		return types.Ok(types.NewObj(types.ObjFailedMatch))
	}
	if hasObjects {
		return types.Ok(targets.Get(idxs[0] + 1))
	}
	return types.Ok(types.NewStr(labels[idxs[0]]))
}

// builtinComplexMatches implements complex_matches(token, targets [, keys]
// [, fuzzy_threshold]) -> list of every candidate tied at the best tier, or
// {} if nothing matched at all.
func builtinComplexMatches(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	token, targets, keys, useKeys, fuzzy, errCode, ok := complexMatchArgs(args)
	if !ok {
		return types.Err(errCode)
	}

	if useKeys {
		if targets.Len() != keys.Len() {
			return types.Err(types.E_INVARG)
		}
		labels := make([]string, keys.Len())
		for i := 1; i <= keys.Len(); i++ {
			if sv, isStr := keys.Get(i).(types.StrValue); isStr {
				labels[i-1] = sv.Value()
			}
		}
		idxs := matchStrings(token, labels, fuzzy)
		result := types.NewList(nil)
		for _, i := range idxs {
			result = result.Append(targets.Get(i + 1))
		}
		return types.Ok(result)
	}

	labels, hasObjects := candidateLabels(ctx, store, targets)
	idxs := matchStrings(token, labels, fuzzy)
	result := types.NewList(nil)
	for _, i := range idxs {
		if hasObjects {
			result = result.Append(targets.Get(i + 1))
		} else {
			result = result.Append(types.NewStr(labels[i]))
		}
	}
	return types.Ok(result)
}
