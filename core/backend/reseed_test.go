package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRemapTable() remapTable {
	table := newRemapTable()
	table.addSeed("person", 1, 11)
	table.addSeed("person", 2, 12)
	table.addSeed("pet", 5, 15)
	// 9 was the ephemeral copy of pet 5 before the reseed
	table.addEphemeral("pet", 9, 5)
	return table
}

func TestRemapTableResolve(t *testing.T) {
	table := testRemapTable()

	n, ok := table.resolve("person", 1)
	assert.True(t, ok)
	assert.Equal(t, 11, n)

	n, ok = table.resolve("pet", 9)
	assert.True(t, ok)
	assert.Equal(t, 15, n)

	_, ok = table.resolve("person", 5)
	assert.False(t, ok)
	_, ok = table.resolve("note", 1)
	assert.False(t, ok)
}

func TestRemapReferences(t *testing.T) {
	references := testDefinition(t).Resources["pet"].References
	data := map[string]interface{}{
		"name":    "rex",
		"owner":   float64(1),
		"friends": []interface{}{float64(2), "1", float64(77)},
	}
	remapReferences(data, references, testRemapTable())

	assert.Equal(t, "rex", data["name"])
	assert.Equal(t, 11, data["owner"])
	assert.Equal(t, []interface{}{12, "11", float64(77)}, data["friends"])

	untouched := map[string]interface{}{"owner": nil}
	remapReferences(untouched, references, testRemapTable())
	assert.Equal(t, map[string]interface{}{"owner": nil}, untouched)
}

func TestRemapMemberProperties(t *testing.T) {
	references := testDefinition(t).memberReferences()
	table := testRemapTable()

	properties := map[string]interface{}{
		"favourite": float64(9),
		"pets":      []interface{}{float64(5), float64(9)},
		"nickname":  "bob",
	}
	assert.True(t, remapMemberProperties(properties, references, table))
	assert.Equal(t, 15, properties["favourite"])
	assert.Equal(t, []interface{}{15, 15}, properties["pets"])
	assert.Equal(t, "bob", properties["nickname"])

	properties = map[string]interface{}{
		"favourite": float64(3),
		"pets":      []interface{}{float64(5), float64(3)},
	}
	assert.True(t, remapMemberProperties(properties, references, table))
	assert.Equal(t, 0, properties["favourite"])
	assert.Equal(t, []interface{}{}, properties["pets"])

	properties = map[string]interface{}{"nickname": "bob"}
	assert.False(t, remapMemberProperties(properties, references, table))
}

func TestRemapReferencesAcrossReseeds(t *testing.T) {
	references := testDefinition(t).Resources["pet"].References
	// seed pet references seed person 1, its copies were 2, then 3, then 4
	seedData := map[string]interface{}{"owner": float64(1)}

	first := newRemapTable()
	first.addEphemeral("person", 2, 1)
	first.addSeed("person", 1, 3)
	data := cloneDoc(seedData)
	remapReferences(data, references, first)
	assert.Equal(t, 3, data["owner"])

	second := newRemapTable()
	second.addEphemeral("person", 3, 1)
	second.addSeed("person", 1, 4)
	data = cloneDoc(seedData)
	remapReferences(data, references, second)
	assert.Equal(t, 4, data["owner"])
	assert.Equal(t, float64(1), seedData["owner"])
}
